package exchange

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/custodex/pkg/app/core/asset"
	"github.com/uhyunpark/custodex/pkg/app/core/book"
	"github.com/uhyunpark/custodex/pkg/app/core/ledger"
	"github.com/uhyunpark/custodex/pkg/storage"
)

func (e *Engine) Balance(owner common.Address, issuer asset.IssuerID, sym asset.Symbol) (asset.Asset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ledger.Query(e.store, owner, issuer, sym)
}

func (e *Engine) Balances(owner common.Address) ([]*ledger.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ledger.Records(e.store, owner)
}

func (e *Engine) Order(id uint64) (*book.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return book.Get(e.store, id)
}

func (e *Engine) Orders() ([]*book.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return book.List(e.store)
}

func (e *Engine) OrdersByOwner(owner common.Address) ([]*book.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return book.ListByOwner(e.store, owner)
}

// OpenOrders is the number of orders resting in the book.
func (e *Engine) OpenOrders() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openOrders
}

// Total is custody's liability for one asset: what owners hold plus what
// open orders keep in escrow.
type Total struct {
	Issuer   asset.IssuerID `json:"issuer"`
	Held     asset.Asset    `json:"held"`
	Escrowed asset.Asset    `json:"escrowed"`
	Total    asset.Asset    `json:"total"`
}

type totalKey struct {
	issuer asset.IssuerID
	sym    asset.Symbol
}

// Totals sums every balance and every open order's remaining selling amount
// per (issuer, symbol). It always equals deposits minus withdrawals.
func (e *Engine) Totals() ([]Total, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sums := make(map[totalKey]*Total)
	get := func(issuer asset.IssuerID, sym asset.Symbol) *Total {
		k := totalKey{issuer, sym}
		t, ok := sums[k]
		if !ok {
			t = &Total{Issuer: issuer, Held: asset.New(0, sym), Escrowed: asset.New(0, sym)}
			sums[k] = t
		}
		return t
	}

	recs, err := ledger.All(e.store)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		for _, a := range rec.Assets() {
			t := get(rec.Issuer, a.Symbol)
			if t.Held, err = t.Held.Add(a); err != nil {
				return nil, err
			}
		}
	}
	orders, err := book.List(e.store)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		t := get(o.SellingIssuer, o.Selling.Symbol)
		if t.Escrowed, err = t.Escrowed.Add(o.Selling); err != nil {
			return nil, err
		}
	}

	out := make([]Total, 0, len(sums))
	for _, t := range sums {
		if t.Total, err = t.Held.Add(t.Escrowed); err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Issuer != out[j].Issuer {
			return out[i].Issuer < out[j].Issuer
		}
		return out[i].Total.Symbol.String() < out[j].Total.Symbol.String()
	})
	return out, nil
}

// stateSections lists every keyspace that makes up settlement state, in
// hashing order.
var stateSections = []string{"bal:", "ctr", "nonce:", "ord:"}

// StateHash is keccak256 over every key and value of settlement state in key
// order. Two engines that applied the same operations agree on it.
func (e *Engine) StateHash() (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := sha3.NewLegacyKeccak256()
	var lenBuf [8]byte
	writeField := func(b []byte) {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
		h.Write(lenBuf[:])
		h.Write(b)
	}
	for _, prefix := range stateSections {
		err := storage.ScanPrefix(e.store, []byte(prefix), func(key, value []byte) error {
			writeField(key)
			writeField(value)
			return nil
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("hash %s: %w", prefix, err)
		}
	}
	return common.BytesToHash(h.Sum(nil)), nil
}
