package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/util"
)

// LogGateway accepts every transfer and only logs it. Devnet use.
type LogGateway struct {
	log *zap.SugaredLogger
}

func NewLogGateway(log *zap.SugaredLogger) *LogGateway {
	return &LogGateway{log: util.Sugar(log)}
}

func (g *LogGateway) Transfer(_ context.Context, t Transfer) error {
	g.log.Infow("transfer",
		"transfer_id", t.ID,
		"from", t.From.Hex(),
		"to", t.To.Hex(),
		"issuer", t.IssuerCode,
		"quantity", t.Quantity.String(),
		"memo", t.Memo,
	)
	return nil
}
