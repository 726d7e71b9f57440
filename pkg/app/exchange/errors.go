package exchange

import (
	"errors"

	"github.com/uhyunpark/custodex/pkg/app/core/asset"
	"github.com/uhyunpark/custodex/pkg/app/core/book"
	"github.com/uhyunpark/custodex/pkg/app/core/ledger"
)

var (
	ErrOverFill       = errors.New("spend exceeds remaining order amount")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrGatewayFailure = errors.New("transfer gateway failure")
	ErrOrderExpired   = errors.New("order expired")
	ErrInvalidOrder   = errors.New("invalid order")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrZeroFill       = errors.New("fill releases nothing")
	ErrNonceTooLow    = errors.New("nonce too low")

	ErrNotifierRequired = errors.New("exchange: deposit notifier required")

	ErrRecordNotFound    = ledger.ErrRecordNotFound
	ErrSymbolNotFound    = ledger.ErrSymbolNotFound
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrOrderNotFound     = book.ErrOrderNotFound
	ErrOverflow          = asset.ErrOverflow
	ErrSymbolMismatch    = asset.ErrSymbolMismatch
)

// resultLabel is the metrics label for an operation outcome.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrSymbolNotFound):
		return "no_balance"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrOverFill):
		return "over_fill"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrGatewayFailure):
		return "gateway_failure"
	case errors.Is(err, ErrOrderExpired):
		return "expired"
	case errors.Is(err, ErrNonceTooLow):
		return "nonce_too_low"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	}
	return "error"
}
