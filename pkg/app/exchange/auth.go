package exchange

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
)

// Authorizer decides whether the caller in ctx may act as account.
type Authorizer interface {
	Authorize(ctx context.Context, account common.Address) error
}

// SignerAuthorizer accepts only the verified signer attached with
// transaction.WithSigner.
type SignerAuthorizer struct{}

func (SignerAuthorizer) Authorize(ctx context.Context, account common.Address) error {
	signer, ok := transaction.SignerFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: no signer for %s", ErrUnauthorized, account.Hex())
	}
	if signer != account {
		return fmt.Errorf("%w: %s cannot act for %s", ErrUnauthorized, signer.Hex(), account.Hex())
	}
	return nil
}

// AllowAll trusts every caller. For in-process tools and tests.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, common.Address) error { return nil }

// authorize checks cmd's authority before any state is touched. Deposits are
// vouched for by the configured notifier rather than the depositor.
func (e *Engine) authorize(ctx context.Context, cmd transaction.Command) error {
	if _, ok := cmd.(transaction.Deposit); ok {
		if e.cfg.Notifier == (common.Address{}) {
			if e.cfg.AllowUnverifiedDeposits {
				return nil
			}
			return fmt.Errorf("%w: no deposit notifier configured", ErrUnauthorized)
		}
		return e.auth.Authorize(ctx, e.cfg.Notifier)
	}
	return e.auth.Authorize(ctx, cmd.Account())
}
