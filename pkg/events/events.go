// Package events publishes settlement events after they commit.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core/asset"
)

type Type string

const (
	TypeDeposit     Type = "deposit"
	TypeOrderPlaced Type = "order_placed"
	TypeOrderFilled Type = "order_filled"
	TypeOrderClosed Type = "order_closed"
	TypeWithdrawal  Type = "withdrawal"
)

// Event describes one committed state change.
//
// For fills, Account is the taker, Counterparty the maker, Quantity what the
// taker spent and Received what the taker got.
type Event struct {
	Type         Type            `json:"type"`
	Time         time.Time       `json:"time"`
	Account      common.Address  `json:"account"`
	Counterparty *common.Address `json:"counterparty,omitempty"`
	OrderID      uint64          `json:"order_id,omitempty"`
	Issuer       asset.IssuerID  `json:"issuer,omitempty"`
	Quantity     *asset.Asset    `json:"quantity,omitempty"`
	Received     *asset.Asset    `json:"received,omitempty"`
	TransferID   string          `json:"transfer_id,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }

// Fanout delivers to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evs ...Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, evs...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every published event in memory.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, evs ...Event) error {
	r.Events = append(r.Events, evs...)
	return nil
}
