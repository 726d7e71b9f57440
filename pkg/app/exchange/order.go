package exchange

import (
	"context"
	"fmt"

	"github.com/uhyunpark/custodex/pkg/app/core/asset"
	"github.com/uhyunpark/custodex/pkg/app/core/book"
	"github.com/uhyunpark/custodex/pkg/app/core/ledger"
	"github.com/uhyunpark/custodex/pkg/app/core/sequence"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/events"
)

// PlaceOrder escrows p.Selling from the maker and rests a new order.
func (e *Engine) PlaceOrder(ctx context.Context, p transaction.PlaceOrder) (*book.Order, error) {
	if err := e.authorize(ctx, p); err != nil {
		return nil, err
	}
	var placed *book.Order
	err := e.run(ctx, string(transaction.TypePlaceOrder), func(u *unit) error {
		var err error
		placed, err = e.placeOrder(u, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

func (e *Engine) placeOrder(u *unit, p transaction.PlaceOrder) (*book.Order, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if p.Selling.IsZero() || p.Buying.IsZero() {
		return nil, fmt.Errorf("%w: selling and buying must be positive", ErrInvalidOrder)
	}
	if p.Expiration != 0 && p.Expiration <= u.now.Unix() {
		return nil, fmt.Errorf("%w: expiration %d already passed", ErrInvalidOrder, p.Expiration)
	}
	sellIssuer, err := e.resolve(p.SellingCode)
	if err != nil {
		return nil, err
	}
	buyIssuer, err := e.resolve(p.BuyingCode)
	if err != nil {
		return nil, err
	}
	if sellIssuer == buyIssuer && p.Selling.Symbol.Code == p.Buying.Symbol.Code {
		return nil, fmt.Errorf("%w: selling and buying the same asset", ErrInvalidOrder)
	}

	if err := ledger.Debit(u.txn, p.Maker, sellIssuer, p.Selling); err != nil {
		return nil, err
	}
	id, err := sequence.Next(u.txn)
	if err != nil {
		return nil, err
	}
	o := &book.Order{
		ID:            id,
		Owner:         p.Maker,
		SellingIssuer: sellIssuer,
		SellingCode:   p.SellingCode,
		Selling:       p.Selling,
		BuyingIssuer:  buyIssuer,
		BuyingCode:    p.BuyingCode,
		Buying:        p.Buying,
		OrigSelling:   p.Selling,
		OrigBuying:    p.Buying,
		Expiration:    p.Expiration,
		CreatedAt:     u.now.Unix(),
	}
	if err := book.Insert(u.txn, o); err != nil {
		return nil, err
	}
	u.openDelta++

	sell := o.Selling
	u.emit(events.Event{Type: events.TypeOrderPlaced, Account: o.Owner, OrderID: id, Issuer: sellIssuer, Quantity: &sell})
	e.log.Infow("order_placed", "order_id", id, "maker", o.Owner.Hex(),
		"selling", o.Selling.String(), "buying", o.Buying.String())
	return o, nil
}

// FillResult reports one fill. Order is the state after the fill; when
// Closed is true it has been removed from the book.
type FillResult struct {
	Order    *book.Order `json:"order"`
	Spent    asset.Asset `json:"spent"`
	Received asset.Asset `json:"received"`
	Closed   bool        `json:"closed"`
}

// FillOrder trades f.Spend of the order's buying asset for a proportional
// share of its selling asset.
//
// The price is fixed at placement: the taker receives
// floor(spend * OrigSelling / OrigBuying), and a fill that takes the whole
// remaining buying amount releases the whole remaining selling amount.
func (e *Engine) FillOrder(ctx context.Context, f transaction.FillOrder) (*FillResult, error) {
	if err := e.authorize(ctx, f); err != nil {
		return nil, err
	}
	var res *FillResult
	err := e.run(ctx, string(transaction.TypeFillOrder), func(u *unit) error {
		var err error
		res, err = e.fillOrder(u, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) fillOrder(u *unit, f transaction.FillOrder) (*FillResult, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	o, err := book.Get(u.txn, f.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Expired(u.now) {
		return nil, fmt.Errorf("%w: order %d expired at %d", ErrOrderExpired, o.ID, o.Expiration)
	}
	if f.Spend.Symbol != o.Buying.Symbol {
		return nil, fmt.Errorf("%w: order %d buys %s, spend is %s", ErrSymbolMismatch, o.ID, o.Buying.Symbol, f.Spend.Symbol)
	}
	if f.Spend.IsZero() {
		return nil, fmt.Errorf("%w: spend must be positive", ErrInvalidAmount)
	}
	cmp, err := f.Spend.Cmp(o.Buying)
	if err != nil {
		return nil, err
	}
	if cmp > 0 {
		return nil, fmt.Errorf("%w: order %d has %s left, spend %s", ErrOverFill, o.ID, o.Buying, f.Spend)
	}

	release := o.Selling.Amount
	if cmp < 0 {
		release, err = asset.MulDiv(f.Spend.Amount, o.OrigSelling.Amount, o.OrigBuying.Amount)
		if err != nil {
			return nil, err
		}
		if release == 0 {
			return nil, fmt.Errorf("%w: %s buys less than one unit of %s", ErrZeroFill, f.Spend, o.Selling.Symbol.Code)
		}
		if release >= o.Selling.Amount {
			return nil, fmt.Errorf("order %d: partial fill would release %d of %d remaining", o.ID, release, o.Selling.Amount)
		}
	}
	received := asset.New(release, o.Selling.Symbol)

	if err := ledger.Debit(u.txn, f.Taker, o.BuyingIssuer, f.Spend); err != nil {
		return nil, err
	}
	if err := ledger.Credit(u.txn, f.Taker, o.SellingIssuer, received); err != nil {
		return nil, err
	}
	if err := ledger.Credit(u.txn, o.Owner, o.BuyingIssuer, f.Spend); err != nil {
		return nil, err
	}

	updated, err := book.Update(u.txn, o.ID, func(s *book.Order) error {
		var err error
		if s.Selling, err = s.Selling.Sub(received); err != nil {
			return err
		}
		s.Buying, err = s.Buying.Sub(f.Spend)
		return err
	})
	if err != nil {
		return nil, err
	}
	res := &FillResult{Order: updated, Spent: f.Spend, Received: received}

	maker := o.Owner
	spent := f.Spend
	u.emit(events.Event{
		Type: events.TypeOrderFilled, Account: f.Taker, Counterparty: &maker,
		OrderID: o.ID, Issuer: o.BuyingIssuer, Quantity: &spent, Received: &received,
	})

	if updated.Filled() || updated.Selling.IsZero() {
		if err := book.Remove(u.txn, o.ID); err != nil {
			return nil, err
		}
		res.Closed = true
		u.openDelta--
		u.emit(events.Event{Type: events.TypeOrderClosed, Account: maker, OrderID: o.ID})
	}

	e.log.Infow("order_filled", "order_id", o.ID, "taker", f.Taker.Hex(), "maker", maker.Hex(),
		"spent", spent.String(), "received", received.String(), "closed", res.Closed)
	return res, nil
}
