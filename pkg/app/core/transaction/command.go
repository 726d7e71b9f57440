package transaction

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core/asset"
)

var ErrInvalidCommand = errors.New("invalid command")

type Type string

const (
	TypeDeposit    Type = "deposit"
	TypePlaceOrder Type = "place_order"
	TypeFillOrder  Type = "fill_order"
	TypeWithdraw   Type = "withdraw"
)

// Command is one of Deposit, PlaceOrder, FillOrder or Withdraw.
type Command interface {
	Type() Type
	// Account is whose funds the command moves.
	Account() common.Address
	Validate() error
}

// Deposit is a transfer notification: From sent Quantity of IssuerCode's
// token to To.
type Deposit struct {
	From       common.Address `json:"from"`
	To         common.Address `json:"to"`
	IssuerCode string         `json:"issuer_code"`
	Quantity   asset.Asset    `json:"quantity"`
}

type PlaceOrder struct {
	Maker       common.Address `json:"maker"`
	Selling     asset.Asset    `json:"selling"`
	SellingCode string         `json:"selling_code"`
	Buying      asset.Asset    `json:"buying"`
	BuyingCode  string         `json:"buying_code"`
	// Expiration is unix seconds, 0 for none.
	Expiration int64 `json:"expiration,omitempty"`
}

// FillOrder offers Spend, denominated in the order's buying asset.
type FillOrder struct {
	Taker   common.Address `json:"taker"`
	OrderID uint64         `json:"order_id"`
	Spend   asset.Asset    `json:"spend"`
}

type Withdraw struct {
	Owner      common.Address `json:"account"`
	TargetCode string         `json:"target_code"`
	Quantity   asset.Asset    `json:"quantity"`
}

func (Deposit) Type() Type    { return TypeDeposit }
func (PlaceOrder) Type() Type { return TypePlaceOrder }
func (FillOrder) Type() Type  { return TypeFillOrder }
func (Withdraw) Type() Type   { return TypeWithdraw }

func (c Deposit) Account() common.Address    { return c.From }
func (c PlaceOrder) Account() common.Address { return c.Maker }
func (c FillOrder) Account() common.Address  { return c.Taker }
func (c Withdraw) Account() common.Address   { return c.Owner }

func (c Deposit) Validate() error {
	if c.IssuerCode == "" {
		return fmt.Errorf("%w: deposit missing issuer code", ErrInvalidCommand)
	}
	return c.Quantity.Validate()
}

func (c PlaceOrder) Validate() error {
	if c.Maker == (common.Address{}) {
		return fmt.Errorf("%w: missing maker", ErrInvalidCommand)
	}
	if c.SellingCode == "" || c.BuyingCode == "" {
		return fmt.Errorf("%w: missing issuer code", ErrInvalidCommand)
	}
	if err := c.Selling.Validate(); err != nil {
		return err
	}
	if err := c.Buying.Validate(); err != nil {
		return err
	}
	if c.Expiration < 0 {
		return fmt.Errorf("%w: negative expiration", ErrInvalidCommand)
	}
	return nil
}

func (c FillOrder) Validate() error {
	if c.Taker == (common.Address{}) {
		return fmt.Errorf("%w: missing taker", ErrInvalidCommand)
	}
	if c.OrderID == 0 {
		return fmt.Errorf("%w: missing order id", ErrInvalidCommand)
	}
	return c.Spend.Validate()
}

func (c Withdraw) Validate() error {
	if c.Owner == (common.Address{}) {
		return fmt.Errorf("%w: missing account", ErrInvalidCommand)
	}
	if c.TargetCode == "" {
		return fmt.Errorf("%w: missing target code", ErrInvalidCommand)
	}
	return c.Quantity.Validate()
}
