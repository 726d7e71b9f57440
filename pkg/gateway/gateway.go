// Package gateway moves tokens out of custody.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/custodex/pkg/app/core/asset"
)

const WithdrawMemo = "withdraw from custody"

var ErrTransferRejected = errors.New("transfer rejected")

// Transfer is one outbound movement from the custody account.
type Transfer struct {
	ID         uuid.UUID      `json:"id"`
	From       common.Address `json:"from"`
	To         common.Address `json:"to"`
	Issuer     asset.IssuerID `json:"issuer"`
	IssuerCode string         `json:"issuer_code"`
	Quantity   asset.Asset    `json:"quantity"`
	Memo       string         `json:"memo"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Gateway either delivers a transfer or returns an error. A nil error means
// the transfer will happen; callers do not retry.
type Gateway interface {
	Transfer(ctx context.Context, t Transfer) error
}

type GatewayFunc func(ctx context.Context, t Transfer) error

func (f GatewayFunc) Transfer(ctx context.Context, t Transfer) error { return f(ctx, t) }
