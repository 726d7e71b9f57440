// Package ledger keeps per-owner, per-issuer balance records.
//
// Every function takes the caller's storage transaction; the ledger never
// commits on its own.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core/asset"
	"github.com/uhyunpark/custodex/pkg/storage"
)

var (
	ErrRecordNotFound    = errors.New("balance record not found")
	ErrSymbolNotFound    = errors.New("symbol not found in balance record")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

type Entry struct {
	Precision uint8  `json:"precision"`
	Amount    uint64 `json:"amount"`
}

// Record holds every symbol one issuer minted that owner has touched.
// Entries are never removed; a zero amount stays as a zero row.
type Record struct {
	Owner    common.Address   `json:"owner"`
	Issuer   asset.IssuerID   `json:"issuer"`
	Balances map[string]Entry `json:"balances"`
}

// Assets lists the record's balances sorted by code.
func (r *Record) Assets() []asset.Asset {
	codes := make([]string, 0, len(r.Balances))
	for code := range r.Balances {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	out := make([]asset.Asset, 0, len(codes))
	for _, code := range codes {
		e := r.Balances[code]
		out = append(out, asset.New(e.Amount, asset.Symbol{Code: code, Precision: e.Precision}))
	}
	return out
}

func (r *Record) entry(sym asset.Symbol) (Entry, error) {
	e, ok := r.Balances[sym.Code]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, sym.Code)
	}
	if e.Precision != sym.Precision {
		return Entry{}, fmt.Errorf("%w: %s held at precision %d, got %d",
			asset.ErrSymbolMismatch, sym.Code, e.Precision, sym.Precision)
	}
	return e, nil
}

// Get loads the record for (owner, issuer).
func Get(r storage.Reader, owner common.Address, issuer asset.IssuerID) (*Record, error) {
	var rec Record
	found, err := storage.GetJSON(r, recordKey(owner, issuer), &rec)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, owner.Hex(), issuer)
	}
	if rec.Balances == nil {
		rec.Balances = make(map[string]Entry)
	}
	return &rec, nil
}

func put(w storage.Writer, rec *Record) error {
	return storage.PutJSON(w, recordKey(rec.Owner, rec.Issuer), rec)
}

// Credit adds qty to owner's balance, creating the record or the symbol
// entry when absent.
func Credit(w storage.Writer, owner common.Address, issuer asset.IssuerID, qty asset.Asset) error {
	if err := qty.Validate(); err != nil {
		return err
	}
	rec, err := Get(w, owner, issuer)
	if errors.Is(err, ErrRecordNotFound) {
		rec = &Record{Owner: owner, Issuer: issuer, Balances: make(map[string]Entry)}
	} else if err != nil {
		return err
	}

	e, err := rec.entry(qty.Symbol)
	switch {
	case errors.Is(err, ErrSymbolNotFound):
		e = Entry{Precision: qty.Symbol.Precision}
	case err != nil:
		return err
	}
	sum, err := asset.AddAmounts(e.Amount, qty.Amount)
	if err != nil {
		return fmt.Errorf("credit %s to %s: %w", qty, owner.Hex(), err)
	}
	e.Amount = sum
	rec.Balances[qty.Symbol.Code] = e
	return put(w, rec)
}

// Debit subtracts qty from owner's balance. It fails without writing when
// the record or symbol is missing or the balance is short.
func Debit(w storage.Writer, owner common.Address, issuer asset.IssuerID, qty asset.Asset) error {
	if err := qty.Validate(); err != nil {
		return err
	}
	rec, err := Get(w, owner, issuer)
	if err != nil {
		return err
	}
	e, err := rec.entry(qty.Symbol)
	if err != nil {
		return err
	}
	if e.Amount < qty.Amount {
		have := asset.New(e.Amount, qty.Symbol)
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, owner.Hex(), have, qty)
	}
	e.Amount -= qty.Amount
	rec.Balances[qty.Symbol.Code] = e
	return put(w, rec)
}

// Query returns owner's balance of sym under issuer.
func Query(r storage.Reader, owner common.Address, issuer asset.IssuerID, sym asset.Symbol) (asset.Asset, error) {
	rec, err := Get(r, owner, issuer)
	if err != nil {
		return asset.Asset{}, err
	}
	e, err := rec.entry(sym)
	if err != nil {
		return asset.Asset{}, err
	}
	return asset.New(e.Amount, sym), nil
}

// Records returns every record held by owner, ordered by issuer.
func Records(r storage.Reader, owner common.Address) ([]*Record, error) {
	return scan(r, ownerPrefix(owner))
}

// All returns every record in the ledger, ordered by owner then issuer.
func All(r storage.Reader) ([]*Record, error) {
	return scan(r, []byte(prefixBalance))
}

func scan(r storage.Reader, prefix []byte) ([]*Record, error) {
	var out []*Record
	err := storage.ScanPrefix(r, prefix, func(key, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, &rec)
		return nil
	})
	return out, err
}
