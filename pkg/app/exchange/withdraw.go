package exchange

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/uhyunpark/custodex/pkg/app/core/ledger"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/events"
	"github.com/uhyunpark/custodex/pkg/gateway"
)

// Withdraw debits the account and sends the funds out of custody. The debit
// only commits if the gateway accepted the transfer.
func (e *Engine) Withdraw(ctx context.Context, w transaction.Withdraw) (*gateway.Transfer, error) {
	if err := e.authorize(ctx, w); err != nil {
		return nil, err
	}
	var tr *gateway.Transfer
	err := e.run(ctx, string(transaction.TypeWithdraw), func(u *unit) error {
		var err error
		tr, err = e.withdraw(u, w)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func (e *Engine) withdraw(u *unit, w transaction.Withdraw) (*gateway.Transfer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if w.Quantity.IsZero() {
		return nil, fmt.Errorf("%w: withdrawal must be positive", ErrInvalidAmount)
	}
	issuer, err := e.resolve(w.TargetCode)
	if err != nil {
		return nil, err
	}
	if err := ledger.Debit(u.txn, w.Owner, issuer, w.Quantity); err != nil {
		return nil, err
	}

	tr := gateway.Transfer{
		ID:         uuid.New(),
		From:       e.cfg.Custody,
		To:         w.Owner,
		Issuer:     issuer,
		IssuerCode: w.TargetCode,
		Quantity:   w.Quantity,
		Memo:       gateway.WithdrawMemo,
		CreatedAt:  u.now,
	}
	e.journal("pending", tr, nil)
	if err := e.gateway.Transfer(u.ctx, tr); err != nil {
		e.metrics.ObserveTransfer("error")
		e.journal("rejected", tr, err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	e.metrics.ObserveTransfer("ok")
	u.transfer = &tr

	qty := tr.Quantity
	u.emit(events.Event{Type: events.TypeWithdrawal, Account: w.Owner, Issuer: issuer, Quantity: &qty, TransferID: tr.ID.String()})
	e.log.Infow("withdrawal", "account", w.Owner.Hex(), "issuer", w.TargetCode, "quantity", qty.String(), "transfer_id", tr.ID)
	return &tr, nil
}
