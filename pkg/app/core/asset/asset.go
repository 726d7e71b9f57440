// Package asset defines fixed-point token quantities.
//
// An Asset's Amount counts the smallest unit of its symbol, so "1.2345 USD"
// with precision 4 is stored as 12345. All arithmetic is checked.
package asset

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MaxCodeLen   = 7
	MaxPrecision = 18
)

var (
	ErrInvalidSymbol  = errors.New("invalid symbol")
	ErrInvalidAsset   = errors.New("invalid asset")
	ErrSymbolMismatch = errors.New("symbol mismatch")
	ErrOverflow       = errors.New("amount overflow")
	ErrUnderflow      = errors.New("amount underflow")
	ErrDivideByZero   = errors.New("division by zero")
)

type Symbol struct {
	Code      string `json:"code"`
	Precision uint8  `json:"precision"`
}

func NewSymbol(code string, precision uint8) (Symbol, error) {
	s := Symbol{Code: code, Precision: precision}
	return s, s.Validate()
}

// MustSymbol panics on an invalid symbol. Intended for constants and tests.
func MustSymbol(code string, precision uint8) Symbol {
	s, err := NewSymbol(code, precision)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Symbol) Validate() error {
	if len(s.Code) == 0 || len(s.Code) > MaxCodeLen {
		return fmt.Errorf("%w: code %q must be 1-%d characters", ErrInvalidSymbol, s.Code, MaxCodeLen)
	}
	for _, c := range s.Code {
		if c < 'A' || c > 'Z' {
			return fmt.Errorf("%w: code %q must be upper-case letters", ErrInvalidSymbol, s.Code)
		}
	}
	if s.Precision > MaxPrecision {
		return fmt.Errorf("%w: precision %d exceeds %d", ErrInvalidSymbol, s.Precision, MaxPrecision)
	}
	return nil
}

func (s Symbol) String() string {
	return fmt.Sprintf("%d,%s", s.Precision, s.Code)
}

type Asset struct {
	Amount uint64
	Symbol Symbol
}

func New(amount uint64, sym Symbol) Asset {
	return Asset{Amount: amount, Symbol: sym}
}

// Parse reads "<amount> <CODE>", e.g. "100.0000 USD". The number of
// fractional digits fixes the precision.
func Parse(s string) (Asset, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Asset{}, fmt.Errorf("%w: %q", ErrInvalidAsset, s)
	}
	num := fields[0]
	if strings.ContainsAny(num, "eE+-") {
		return Asset{}, fmt.Errorf("%w: amount %q", ErrInvalidAsset, num)
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}

	precision := 0
	if dot := strings.IndexByte(num, '.'); dot >= 0 {
		precision = len(num) - dot - 1
	}
	if precision > MaxPrecision {
		return Asset{}, fmt.Errorf("%w: precision %d exceeds %d", ErrInvalidSymbol, precision, MaxPrecision)
	}
	sym := Symbol{Code: fields[1], Precision: uint8(precision)}
	if err := sym.Validate(); err != nil {
		return Asset{}, err
	}

	coef := d.Shift(int32(precision)).BigInt()
	if !coef.IsUint64() {
		return Asset{}, fmt.Errorf("%w: %s", ErrOverflow, num)
	}
	return Asset{Amount: coef.Uint64(), Symbol: sym}, nil
}

func MustParse(s string) Asset {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Asset) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(a.Amount), -int32(a.Symbol.Precision))
}

func (a Asset) String() string {
	return a.Decimal().StringFixed(int32(a.Symbol.Precision)) + " " + a.Symbol.Code
}

func (a Asset) IsZero() bool { return a.Amount == 0 }

func (a Asset) Validate() error {
	return a.Symbol.Validate()
}

func (a Asset) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Asset) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
