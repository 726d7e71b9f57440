package asset

import (
	"fmt"

	"github.com/holiman/uint256"
)

func (a Asset) sameSymbol(b Asset) error {
	if a.Symbol != b.Symbol {
		return fmt.Errorf("%w: %s vs %s", ErrSymbolMismatch, a.Symbol, b.Symbol)
	}
	return nil
}

func (a Asset) Add(b Asset) (Asset, error) {
	if err := a.sameSymbol(b); err != nil {
		return Asset{}, err
	}
	sum, err := AddAmounts(a.Amount, b.Amount)
	if err != nil {
		return Asset{}, fmt.Errorf("%s + %s: %w", a, b, err)
	}
	return Asset{Amount: sum, Symbol: a.Symbol}, nil
}

func (a Asset) Sub(b Asset) (Asset, error) {
	if err := a.sameSymbol(b); err != nil {
		return Asset{}, err
	}
	if b.Amount > a.Amount {
		return Asset{}, fmt.Errorf("%s - %s: %w", a, b, ErrUnderflow)
	}
	return Asset{Amount: a.Amount - b.Amount, Symbol: a.Symbol}, nil
}

// Cmp compares amounts of the same symbol.
func (a Asset) Cmp(b Asset) (int, error) {
	if err := a.sameSymbol(b); err != nil {
		return 0, err
	}
	switch {
	case a.Amount < b.Amount:
		return -1, nil
	case a.Amount > b.Amount:
		return 1, nil
	}
	return 0, nil
}

func AddAmounts(x, y uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(x), uint256.NewInt(y))
	if overflow || !sum.IsUint64() {
		return 0, ErrOverflow
	}
	return sum.Uint64(), nil
}

// MulDiv returns floor(x*mul/div) using a 256-bit intermediate.
func MulDiv(x, mul, div uint64) (uint64, error) {
	if div == 0 {
		return 0, ErrDivideByZero
	}
	r := new(uint256.Int).Mul(uint256.NewInt(x), uint256.NewInt(mul))
	r.Div(r, uint256.NewInt(div))
	if !r.IsUint64() {
		return 0, ErrOverflow
	}
	return r.Uint64(), nil
}
