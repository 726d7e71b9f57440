package api

import (
	"github.com/uhyunpark/custodex/pkg/app/core/book"
	"github.com/uhyunpark/custodex/pkg/app/core/ledger"
	"github.com/uhyunpark/custodex/pkg/app/exchange"
	"github.com/uhyunpark/custodex/pkg/events"
	"github.com/uhyunpark/custodex/pkg/gateway"
)

// API response types for REST endpoints and WebSocket messages.
// Amounts are rendered in asset text form, e.g. "100.0000 USD".

// ==============================
// REST Response Types
// ==============================

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// TxResponse is returned for an executed transaction. At most one of Order,
// Fill and Transfer is set.
type TxResponse struct {
	Status   string        `json:"status"`
	Type     string        `json:"type"`
	Signer   string        `json:"signer"`
	Nonce    uint64        `json:"nonce"`
	Order    *OrderInfo    `json:"order,omitempty"`
	Fill     *FillInfo     `json:"fill,omitempty"`
	Transfer *TransferInfo `json:"transfer,omitempty"`
}

// BalanceInfo is one issuer's record for an account.
type BalanceInfo struct {
	Issuer string   `json:"issuer"`
	Assets []string `json:"assets"`
}

type BalancesResponse struct {
	Address  string        `json:"address"`
	Balances []BalanceInfo `json:"balances"`
}

type NonceResponse struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

type OrderInfo struct {
	ID            uint64 `json:"id"`
	Owner         string `json:"owner"`
	SellingIssuer string `json:"sellingIssuer"`
	Selling       string `json:"selling"` // Remaining escrow
	BuyingIssuer  string `json:"buyingIssuer"`
	Buying        string `json:"buying"` // Remaining ask
	OrigSelling   string `json:"origSelling"`
	OrigBuying    string `json:"origBuying"`
	Expiration    int64  `json:"expiration,omitempty"` // Unix seconds
	CreatedAt     int64  `json:"createdAt"`
}

type FillInfo struct {
	Order    OrderInfo `json:"order"`
	Spent    string    `json:"spent"`
	Received string    `json:"received"`
	Closed   bool      `json:"closed"`
}

type TransferInfo struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Issuer   string `json:"issuer"`
	Quantity string `json:"quantity"`
	Memo     string `json:"memo"`
}

// TotalInfo is custody's liability for one asset.
type TotalInfo struct {
	Issuer   string `json:"issuer"`
	Held     string `json:"held"`
	Escrowed string `json:"escrowed"`
	Total    string `json:"total"`
}

type StateResponse struct {
	Hash       string `json:"hash"`
	OpenOrders int    `json:"openOrders"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients:
// {"op":"subscribe","channels":["orders","account:0xabc..."]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// WSAck confirms a subscription change.
type WSAck struct {
	Type     string   `json:"type"` // "subscribed" or "unsubscribed"
	Channels []string `json:"channels"`
}

type WSEvent struct {
	Type    string       `json:"type"` // always "event"
	Channel string       `json:"channel"`
	Event   events.Event `json:"event"`
}

// ==============================
// Converters
// ==============================

func orderInfo(o *book.Order) OrderInfo {
	return OrderInfo{
		ID:            o.ID,
		Owner:         o.Owner.Hex(),
		SellingIssuer: o.SellingIssuer.String(),
		Selling:       o.Selling.String(),
		BuyingIssuer:  o.BuyingIssuer.String(),
		Buying:        o.Buying.String(),
		OrigSelling:   o.OrigSelling.String(),
		OrigBuying:    o.OrigBuying.String(),
		Expiration:    o.Expiration,
		CreatedAt:     o.CreatedAt,
	}
}

func balanceInfo(rec *ledger.Record) BalanceInfo {
	assets := rec.Assets()
	out := BalanceInfo{Issuer: rec.Issuer.String(), Assets: make([]string, len(assets))}
	for i, a := range assets {
		out.Assets[i] = a.String()
	}
	return out
}

func transferInfo(t *gateway.Transfer) *TransferInfo {
	return &TransferInfo{
		ID:       t.ID.String(),
		From:     t.From.Hex(),
		To:       t.To.Hex(),
		Issuer:   t.IssuerCode,
		Quantity: t.Quantity.String(),
		Memo:     t.Memo,
	}
}

func txResponse(rc *exchange.Receipt) TxResponse {
	resp := TxResponse{
		Status: "executed",
		Type:   string(rc.Type),
		Signer: rc.Signer.Hex(),
		Nonce:  rc.Nonce,
	}
	if rc.Order != nil {
		info := orderInfo(rc.Order)
		resp.Order = &info
	}
	if rc.Fill != nil {
		resp.Fill = &FillInfo{
			Order:    orderInfo(rc.Fill.Order),
			Spent:    rc.Fill.Spent.String(),
			Received: rc.Fill.Received.String(),
			Closed:   rc.Fill.Closed,
		}
	}
	if rc.Transfer != nil {
		resp.Transfer = transferInfo(rc.Transfer)
	}
	return resp
}
