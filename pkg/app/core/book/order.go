package book

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core/asset"
)

// Order is a resting offer: Owner escrowed Selling and wants Buying back.
//
// Selling and Buying are the remaining amounts and shrink with each fill.
// OrigSelling and OrigBuying are fixed at placement and define the price.
type Order struct {
	ID            uint64         `json:"id"`
	Owner         common.Address `json:"owner"`
	SellingIssuer asset.IssuerID `json:"selling_issuer"`
	SellingCode   string         `json:"selling_code"`
	Selling       asset.Asset    `json:"selling"`
	BuyingIssuer  asset.IssuerID `json:"buying_issuer"`
	BuyingCode    string         `json:"buying_code"`
	Buying        asset.Asset    `json:"buying"`
	OrigSelling   asset.Asset    `json:"orig_selling"`
	OrigBuying    asset.Asset    `json:"orig_buying"`
	// Expiration is unix seconds; 0 means the order never expires.
	Expiration int64 `json:"expiration,omitempty"`
	CreatedAt  int64 `json:"created_at"`
}

func (o *Order) Validate() error {
	if o.Selling.IsZero() || o.Buying.IsZero() {
		return fmt.Errorf("%w %d: both sides must be positive", ErrInvalidOrder, o.ID)
	}
	if o.Selling.Amount > o.OrigSelling.Amount || o.Buying.Amount > o.OrigBuying.Amount {
		return fmt.Errorf("%w %d: remaining exceeds original", ErrInvalidOrder, o.ID)
	}
	return nil
}

func (o *Order) Expired(now time.Time) bool {
	return o.Expiration != 0 && o.Expiration <= now.Unix()
}

// Filled reports whether the order has nothing left to buy.
func (o *Order) Filled() bool {
	return o.Buying.IsZero()
}
