package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas-desktop/fxengine/internal/config"
)

func writeTempConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsForOmittedKeys(t *testing.T) {
	path := writeTempConfig(t, "symbol: USDJPY\nbase_lot: 0.1\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PipScale != 100 {
		t.Fatalf("expected default pip_scale 100, got %d", cfg.PipScale)
	}
	if cfg.DailyCloseHHMM != "23:00" {
		t.Fatalf("expected default daily_close_hhmm 23:00, got %s", cfg.DailyCloseHHMM)
	}
	if cfg.AdvisoryTimeoutEmergencyMillis != 10000 {
		t.Fatalf("expected default advisory_timeout_emergency_ms 10000, got %d", cfg.AdvisoryTimeoutEmergencyMillis)
	}
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	path := writeTempConfig(t, "symbol: USDJPY\nbase_lot: 0.1\nlayer1_period_ms: 250\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Layer1PeriodMillis != 250 {
		t.Fatalf("expected overridden layer1_period_ms 250, got %d", cfg.Layer1PeriodMillis)
	}
}

func TestValidateRejectsMissingSymbol(t *testing.T) {
	cfg := config.Defaults()
	cfg.BaseLot = 0.1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing symbol")
	}
}

func TestValidateRejectsBadPipScale(t *testing.T) {
	cfg := config.Defaults()
	cfg.Symbol = "USDJPY"
	cfg.BaseLot = 0.1
	cfg.PipScale = 7
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid pip_scale")
	}
}

func TestValidateRejectsMalformedDailyCloseTime(t *testing.T) {
	cfg := config.Defaults()
	cfg.Symbol = "USDJPY"
	cfg.BaseLot = 0.1
	cfg.DailyCloseHHMM = "25:99"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for malformed daily_close_hhmm")
	}
}
