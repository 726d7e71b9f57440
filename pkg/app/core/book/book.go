// Package book stores open orders keyed by id. The book is a set: there is
// no price or time priority.
package book

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/storage"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderExists   = errors.New("order already exists")
	ErrInvalidOrder  = errors.New("invalid order")
)

func Insert(w storage.Writer, o *Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	_, closer, err := w.Get(orderKey(o.ID))
	if err == nil {
		closer.Close()
		return fmt.Errorf("%w: %d", ErrOrderExists, o.ID)
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("lookup order %d: %w", o.ID, err)
	}
	return storage.PutJSON(w, orderKey(o.ID), o)
}

func Get(r storage.Reader, id uint64) (*Order, error) {
	var o Order
	found, err := storage.GetJSON(r, orderKey(id), &o)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return &o, nil
}

// Update loads the order, applies mutate and stores the result. A mutate
// error leaves the stored order untouched.
func Update(w storage.Writer, id uint64, mutate func(*Order) error) (*Order, error) {
	o, err := Get(w, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(o); err != nil {
		return nil, err
	}
	if o.ID != id {
		return nil, fmt.Errorf("order %d: mutator changed id to %d", id, o.ID)
	}
	if err := storage.PutJSON(w, orderKey(id), o); err != nil {
		return nil, err
	}
	return o, nil
}

func Remove(w storage.Writer, id uint64) error {
	if _, err := Get(w, id); err != nil {
		return err
	}
	return w.Delete(orderKey(id), nil)
}

// List returns every open order in id order.
func List(r storage.Reader) ([]*Order, error) {
	return filter(r, func(*Order) bool { return true })
}

func ListByOwner(r storage.Reader, owner common.Address) ([]*Order, error) {
	return filter(r, func(o *Order) bool { return o.Owner == owner })
}

func filter(r storage.Reader, keep func(*Order) bool) ([]*Order, error) {
	var out []*Order
	err := storage.ScanPrefix(r, []byte(prefixOrder), func(key, value []byte) error {
		var o Order
		if err := json.Unmarshal(value, &o); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if keep(&o) {
			out = append(out, &o)
		}
		return nil
	})
	return out, err
}
