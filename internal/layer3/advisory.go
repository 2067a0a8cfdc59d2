package layer3

import (
	"context"

	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
)

// Advisory is the external decision service (spec §4.9, §6): the
// opaque market-analysis collaborator the core never inspects beyond
// its structured Verdict. Grounded on the teacher's ExchangeAdapter
// pattern of a narrow, context-bound external-call interface.
type Advisory interface {
	Periodic(ctx context.Context, snap fxtypes.PositionSnapshot) (fxtypes.Verdict, error)
	Emergency(ctx context.Context, snap fxtypes.PositionSnapshot, trigger string) (fxtypes.Verdict, error)
}
