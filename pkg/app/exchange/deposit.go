package exchange

import (
	"context"

	"github.com/uhyunpark/custodex/pkg/app/core/ledger"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/events"
)

// Deposit credits d.From with d.Quantity when the notification is a real
// inbound transfer to custody. Transfers not addressed to custody, self
// transfers and zero amounts are ignored without error.
func (e *Engine) Deposit(ctx context.Context, d transaction.Deposit) error {
	if err := e.authorize(ctx, d); err != nil {
		return err
	}
	return e.run(ctx, string(transaction.TypeDeposit), func(u *unit) error {
		return e.deposit(u, d)
	})
}

func (e *Engine) deposit(u *unit, d transaction.Deposit) error {
	if d.To != e.cfg.Custody || d.From == d.To || d.Quantity.IsZero() {
		e.log.Debugw("deposit_ignored", "from", d.From.Hex(), "to", d.To.Hex(), "quantity", d.Quantity.String())
		return nil
	}
	if err := d.Validate(); err != nil {
		return err
	}
	issuer, err := e.resolve(d.IssuerCode)
	if err != nil {
		return err
	}
	if err := ledger.Credit(u.txn, d.From, issuer, d.Quantity); err != nil {
		return err
	}

	qty := d.Quantity
	u.emit(events.Event{Type: events.TypeDeposit, Account: d.From, Issuer: issuer, Quantity: &qty})
	e.log.Infow("deposit", "from", d.From.Hex(), "issuer", d.IssuerCode, "quantity", qty.String())
	return nil
}
