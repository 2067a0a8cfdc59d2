package pip_test

import (
	"testing"

	"github.com/atlas-desktop/fxengine/pkg/pip"
	"github.com/shopspring/decimal"
)

func TestFromPriceJPYScale(t *testing.T) {
	delta := decimal.NewFromFloat(0.10)
	got := pip.FromPrice(delta, pip.DefaultJPYScale)
	want := decimal.NewFromInt(10)
	if !got.Equal(want) {
		t.Fatalf("FromPrice(0.10, 100) = %s, want %s", got, want)
	}
}

func TestToPriceRoundTrip(t *testing.T) {
	pips := decimal.NewFromInt(50)
	price := pip.ToPrice(pips, pip.DefaultJPYScale)
	if !price.Equal(decimal.NewFromFloat(0.50)) {
		t.Fatalf("ToPrice(50, 100) = %s, want 0.50", price)
	}
	back := pip.FromPrice(price, pip.DefaultJPYScale)
	if !back.Equal(pips) {
		t.Fatalf("round trip mismatch: got %s, want %s", back, pips)
	}
}

func TestDistanceSignedByDirection(t *testing.T) {
	from := decimal.NewFromFloat(149.60)
	to := decimal.NewFromFloat(149.10)
	got := pip.Distance(from, to, pip.DefaultJPYScale)
	want := decimal.NewFromInt(-50)
	if !got.Equal(want) {
		t.Fatalf("Distance(149.60, 149.10, 100) = %s, want %s", got, want)
	}
}

func TestForDirectionGainBuyVsSell(t *testing.T) {
	open := decimal.NewFromFloat(149.60)
	current := decimal.NewFromFloat(149.70)

	buyGain := pip.ForDirectionGain(true, open, current, pip.DefaultJPYScale)
	if !buyGain.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("buy gain = %s, want 10", buyGain)
	}

	sellGain := pip.ForDirectionGain(false, open, current, pip.DefaultJPYScale)
	if !sellGain.Equal(decimal.NewFromInt(-10)) {
		t.Fatalf("sell gain = %s, want -10", sellGain)
	}
}
