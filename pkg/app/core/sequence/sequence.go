// Package sequence issues order ids from a persisted counter.
package sequence

import (
	"errors"
	"math"

	"github.com/uhyunpark/custodex/pkg/storage"
)

var ErrExhausted = errors.New("order id sequence exhausted")

var counterKey = []byte("ctr")

// Next increments the counter inside w and returns the new value. The first
// id is 1. Discarding w rolls the increment back.
func Next(w storage.Writer) (uint64, error) {
	cur, err := Current(w)
	if err != nil {
		return 0, err
	}
	if cur == math.MaxUint64 {
		return 0, ErrExhausted
	}
	next := cur + 1
	if err := storage.PutUint64(w, counterKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

// Current returns the last issued id, 0 if none.
func Current(r storage.Reader) (uint64, error) {
	v, _, err := storage.GetUint64(r, counterKey)
	return v, err
}
