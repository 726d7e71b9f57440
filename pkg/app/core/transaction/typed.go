package transaction

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var typedFields = map[Type]struct {
	primary string
	fields  []apitypes.Type
}{
	TypeDeposit: {"Deposit", []apitypes.Type{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "issuerCode", Type: "string"},
		{Name: "quantity", Type: "string"},
		{Name: "nonce", Type: "uint256"},
	}},
	TypePlaceOrder: {"PlaceOrder", []apitypes.Type{
		{Name: "maker", Type: "address"},
		{Name: "selling", Type: "string"},
		{Name: "sellingCode", Type: "string"},
		{Name: "buying", Type: "string"},
		{Name: "buyingCode", Type: "string"},
		{Name: "expiration", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
	}},
	TypeFillOrder: {"FillOrder", []apitypes.Type{
		{Name: "taker", Type: "address"},
		{Name: "orderId", Type: "uint256"},
		{Name: "spend", Type: "string"},
		{Name: "nonce", Type: "uint256"},
	}},
	TypeWithdraw: {"Withdraw", []apitypes.Type{
		{Name: "account", Type: "address"},
		{Name: "targetCode", Type: "string"},
		{Name: "quantity", Type: "string"},
		{Name: "nonce", Type: "uint256"},
	}},
}

// typedMessage maps a command onto its EIP-712 struct. Assets are signed in
// their text form so wallets show "1.0000 USD" rather than raw units.
func typedMessage(cmd Command, nonce uint64) (string, []apitypes.Type, apitypes.TypedDataMessage, error) {
	spec, ok := typedFields[cmd.Type()]
	if !ok {
		return "", nil, nil, fmt.Errorf("%w: no typed data for %s", ErrInvalidCommand, cmd.Type())
	}
	n := strconv.FormatUint(nonce, 10)

	var msg apitypes.TypedDataMessage
	switch c := cmd.(type) {
	case Deposit:
		msg = apitypes.TypedDataMessage{
			"from":       c.From.Hex(),
			"to":         c.To.Hex(),
			"issuerCode": c.IssuerCode,
			"quantity":   c.Quantity.String(),
			"nonce":      n,
		}
	case PlaceOrder:
		msg = apitypes.TypedDataMessage{
			"maker":       c.Maker.Hex(),
			"selling":     c.Selling.String(),
			"sellingCode": c.SellingCode,
			"buying":      c.Buying.String(),
			"buyingCode":  c.BuyingCode,
			"expiration":  strconv.FormatInt(c.Expiration, 10),
			"nonce":       n,
		}
	case FillOrder:
		msg = apitypes.TypedDataMessage{
			"taker":   c.Taker.Hex(),
			"orderId": strconv.FormatUint(c.OrderID, 10),
			"spend":   c.Spend.String(),
			"nonce":   n,
		}
	case Withdraw:
		msg = apitypes.TypedDataMessage{
			"account":    c.Owner.Hex(),
			"targetCode": c.TargetCode,
			"quantity":   c.Quantity.String(),
			"nonce":      n,
		}
	default:
		return "", nil, nil, fmt.Errorf("%w: unsupported command %T", ErrInvalidCommand, cmd)
	}
	return spec.primary, spec.fields, msg, nil
}
