package exchange

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/params"
	"github.com/uhyunpark/custodex/pkg/app/core/asset"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/events"
	"github.com/uhyunpark/custodex/pkg/gateway"
	"github.com/uhyunpark/custodex/pkg/storage"
)

func placeUSDforEUR(t *testing.T, h *harness, sell, buy string) uint64 {
	t.Helper()
	o, err := h.PlaceOrder(as(maker), transaction.PlaceOrder{
		Maker: maker, Selling: asset.MustParse(sell), SellingCode: usdCode,
		Buying: asset.MustParse(buy), BuyingCode: eurCode,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	return o.ID
}

func TestFullFillSettles(t *testing.T) {
	h := newHarness(t, Config{})
	h.deposit(t, maker, usdCode, "100.0000 USD")
	id := placeUSDforEUR(t, h, "100.0000 USD", "50.0000 EUR")
	h.deposit(t, taker, eurCode, "50.0000 EUR")

	if got := h.balance(t, maker, usdCode, "0.0000 USD"); got != "0.0000 USD" {
		t.Fatalf("maker usd after escrow = %s", got)
	}

	res, err := h.FillOrder(as(taker), transaction.FillOrder{Taker: taker, OrderID: id, Spend: asset.MustParse("50.0000 EUR")})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Closed || res.Received.String() != "100.0000 USD" {
		t.Fatalf("fill = %+v", res)
	}
	if _, err := h.Order(id); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("order still present: %v", err)
	}

	want := []struct {
		owner     common.Address
		code, sym string
		amount    string
	}{
		{taker, usdCode, "0.0000 USD", "100.0000 USD"},
		{taker, eurCode, "0.0000 EUR", "0.0000 EUR"},
		{maker, eurCode, "0.0000 EUR", "50.0000 EUR"},
		{maker, usdCode, "0.0000 USD", "0.0000 USD"},
	}
	for _, w := range want {
		if got := h.balance(t, w.owner, w.code, w.sym); got != w.amount {
			t.Errorf("%s %s = %s, want %s", w.owner.Hex()[:6], w.code, got, w.amount)
		}
	}
}

func TestOverFillChangesNothing(t *testing.T) {
	h := newHarness(t, Config{})
	h.deposit(t, maker, usdCode, "100.0000 USD")
	id := placeUSDforEUR(t, h, "100.0000 USD", "50.0000 EUR")
	h.deposit(t, taker, eurCode, "80.0000 EUR")
	before, _ := h.Order(id)
	hash, _ := h.StateHash()

	_, err := h.FillOrder(as(taker), transaction.FillOrder{Taker: taker, OrderID: id, Spend: asset.MustParse("50.0001 EUR")})
	if !errors.Is(err, ErrOverFill) {
		t.Fatalf("err = %v", err)
	}
	after, err := h.Order(id)
	if err != nil || *after != *before {
		t.Fatalf("order changed: %+v -> %+v (%v)", before, after, err)
	}
	if got := h.balance(t, taker, eurCode, "0.0000 EUR"); got != "80.0000 EUR" {
		t.Errorf("taker eur = %s", got)
	}
	if again, _ := h.StateHash(); again != hash {
		t.Error("state hash moved after rejected fill")
	}
}

func TestPartialFillsLockPrice(t *testing.T) {
	h := newHarness(t, Config{})
	h.deposit(t, maker, usdCode, "100.0000 USD")
	id := placeUSDforEUR(t, h, "100.0000 USD", "30.0000 EUR")
	h.deposit(t, taker, eurCode, "30.0000 EUR")

	steps := []struct {
		spend, received, leftSell, leftBuy string
		closed                             bool
	}{
		{"10.0000 EUR", "33.3333 USD", "66.6667 USD", "20.0000 EUR", false},
		{"10.0000 EUR", "33.3333 USD", "33.3334 USD", "10.0000 EUR", false},
		{"10.0000 EUR", "33.3334 USD", "0.0000 USD", "0.0000 EUR", true},
	}
	prevSell, prevBuy := uint64(1_000_000), uint64(300_000)
	for i, s := range steps {
		res, err := h.FillOrder(as(taker), transaction.FillOrder{Taker: taker, OrderID: id, Spend: asset.MustParse(s.spend)})
		if err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
		if res.Received.String() != s.received || res.Closed != s.closed {
			t.Fatalf("fill %d = received %s closed %v", i, res.Received, res.Closed)
		}
		if res.Order.Selling.String() != s.leftSell || res.Order.Buying.String() != s.leftBuy {
			t.Fatalf("fill %d left %s / %s", i, res.Order.Selling, res.Order.Buying)
		}
		if res.Order.Selling.Amount >= prevSell || res.Order.Buying.Amount >= prevBuy {
			t.Fatalf("fill %d did not strictly decrease remaining amounts", i)
		}
		prevSell, prevBuy = res.Order.Selling.Amount, res.Order.Buying.Amount
	}
	if got := h.balance(t, taker, usdCode, "0.0000 USD"); got != "100.0000 USD" {
		t.Errorf("taker usd = %s", got)
	}
	if _, err := h.Order(id); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("filled order still open: %v", err)
	}
}

func TestFillRejections(t *testing.T) {
	h := newHarness(t, Config{})
	h.deposit(t, maker, usdCode, "100.0000 USD")
	dust := placeUSDforEUR(t, h, "0.0001 USD", "10.0000 EUR")
	id := placeUSDforEUR(t, h, "50.0000 USD", "50.0000 EUR")
	h.deposit(t, taker, eurCode, "5.0000 EUR")

	tests := []struct {
		name    string
		ctx     context.Context
		fill    transaction.FillOrder
		wantErr error
	}{
		{"missing order", as(taker), transaction.FillOrder{Taker: taker, OrderID: 99, Spend: asset.MustParse("1.0000 EUR")}, ErrOrderNotFound},
		{"wrong symbol", as(taker), transaction.FillOrder{Taker: taker, OrderID: id, Spend: asset.MustParse("1.0000 USD")}, ErrSymbolMismatch},
		{"wrong precision", as(taker), transaction.FillOrder{Taker: taker, OrderID: id, Spend: asset.MustParse("1.00 EUR")}, ErrSymbolMismatch},
		{"zero spend", as(taker), transaction.FillOrder{Taker: taker, OrderID: id, Spend: asset.MustParse("0.0000 EUR")}, ErrInvalidAmount},
		{"short taker", as(taker), transaction.FillOrder{Taker: taker, OrderID: id, Spend: asset.MustParse("6.0000 EUR")}, ErrInsufficientFunds},
		{"no taker record", as(mallory), transaction.FillOrder{Taker: mallory, OrderID: id, Spend: asset.MustParse("1.0000 EUR")}, ErrRecordNotFound},
		{"dust", as(taker), transaction.FillOrder{Taker: taker, OrderID: dust, Spend: asset.MustParse("0.0001 EUR")}, ErrZeroFill},
		{"unauthorized", as(mallory), transaction.FillOrder{Taker: taker, OrderID: id, Spend: asset.MustParse("1.0000 EUR")}, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := h.StateHash()
			emitted := len(h.rec.Events)
			if _, err := h.FillOrder(tt.ctx, tt.fill); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if after, _ := h.StateHash(); after != before {
				t.Error("rejected fill changed state")
			}
			if len(h.rec.Events) != emitted {
				t.Error("rejected fill emitted events")
			}
		})
	}
}

func TestExpiredOrderCannotBeFilled(t *testing.T) {
	h := newHarness(t, Config{})
	h.deposit(t, maker, usdCode, "10.0000 USD")
	h.deposit(t, taker, eurCode, "10.0000 EUR")

	exp := h.clock.Now().Add(time.Minute).Unix()
	o, err := h.PlaceOrder(as(maker), transaction.PlaceOrder{
		Maker: maker, Selling: asset.MustParse("10.0000 USD"), SellingCode: usdCode,
		Buying: asset.MustParse("10.0000 EUR"), BuyingCode: eurCode, Expiration: exp,
	})
	if err != nil {
		t.Fatal(err)
	}
	fill := transaction.FillOrder{Taker: taker, OrderID: o.ID, Spend: asset.MustParse("1.0000 EUR")}
	if _, err := h.FillOrder(as(taker), fill); err != nil {
		t.Fatalf("fill before expiry: %v", err)
	}

	h.clock.Advance(time.Minute)
	if _, err := h.FillOrder(as(taker), fill); !errors.Is(err, ErrOrderExpired) {
		t.Fatalf("fill after expiry: %v", err)
	}

	_, err = h.PlaceOrder(as(maker), transaction.PlaceOrder{
		Maker: maker, Selling: asset.MustParse("1.0000 USD"), SellingCode: usdCode,
		Buying: asset.MustParse("1.0000 EUR"), BuyingCode: eurCode, Expiration: exp,
	})
	if !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("place already expired: %v", err)
	}
}

func TestPlaceOrderEscrowAndIDs(t *testing.T) {
	h := newHarness(t, Config{})
	h.deposit(t, maker, usdCode, "30.0000 USD")

	first := placeUSDforEUR(t, h, "10.0000 USD", "5.0000 EUR")
	if first != 1 {
		t.Fatalf("first id = %d", first)
	}

	_, err := h.PlaceOrder(as(maker), transaction.PlaceOrder{
		Maker: maker, Selling: asset.MustParse("50.0000 USD"), SellingCode: usdCode,
		Buying: asset.MustParse("5.0000 EUR"), BuyingCode: eurCode,
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("over-escrow: %v", err)
	}
	if got := h.balance(t, maker, usdCode, "0.0000 USD"); got != "20.0000 USD" {
		t.Fatalf("failed placement moved funds: %s", got)
	}

	second := placeUSDforEUR(t, h, "10.0000 USD", "5.0000 EUR")
	if second != 2 {
		t.Fatalf("failed placement consumed an id: second = %d", second)
	}

	invalid := []transaction.PlaceOrder{
		{Maker: maker, Selling: asset.MustParse("0.0000 USD"), SellingCode: usdCode, Buying: asset.MustParse("1.0000 EUR"), BuyingCode: eurCode},
		{Maker: maker, Selling: asset.MustParse("1.0000 USD"), SellingCode: usdCode, Buying: asset.MustParse("1.0000 USD"), BuyingCode: usdCode},
	}
	for _, p := range invalid {
		if _, err := h.PlaceOrder(as(maker), p); !errors.Is(err, ErrInvalidOrder) {
			t.Errorf("place %s for %s: %v", p.Selling, p.Buying, err)
		}
	}
	if _, err := h.PlaceOrder(as(taker), transaction.PlaceOrder{
		Maker: maker, Selling: asset.MustParse("1.0000 USD"), SellingCode: usdCode,
		Buying: asset.MustParse("1.0000 EUR"), BuyingCode: eurCode,
	}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("placing for someone else: %v", err)
	}

	mine, err := h.OrdersByOwner(maker)
	if err != nil || len(mine) != 2 {
		t.Fatalf("maker orders = %d, %v", len(mine), err)
	}
}

func TestDepositNoOps(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := as(notifier)
	qty := asset.MustParse("5.0000 USD")

	ignored := []transaction.Deposit{
		{From: maker, To: taker, IssuerCode: usdCode, Quantity: qty},
		{From: custody, To: custody, IssuerCode: usdCode, Quantity: qty},
		{From: maker, To: custody, IssuerCode: usdCode, Quantity: asset.MustParse("0.0000 USD")},
	}
	for _, d := range ignored {
		if err := h.Deposit(ctx, d); err != nil {
			t.Fatalf("deposit %+v: %v", d, err)
		}
	}
	if recs, _ := h.Balances(maker); len(recs) != 0 {
		t.Fatalf("ignored deposit created records: %+v", recs)
	}
	if len(h.rec.Events) != 0 {
		t.Fatalf("ignored deposit emitted %d events", len(h.rec.Events))
	}

	if err := h.Deposit(ctx, transaction.Deposit{From: maker, To: custody, IssuerCode: "BAD CODE", Quantity: qty}); !errors.Is(err, asset.ErrInvalidIssuer) {
		t.Fatalf("bad issuer: %v", err)
	}
}

func TestDepositNotifier(t *testing.T) {
	notifier := common.HexToAddress("0x4444444444444444444444444444444444444444")
	h := newHarness(t, Config{Notifier: notifier})
	d := transaction.Deposit{From: maker, To: custody, IssuerCode: usdCode, Quantity: asset.MustParse("1.0000 USD")}

	if err := h.Deposit(as(maker), d); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("depositor self-report: %v", err)
	}
	if err := h.Deposit(as(notifier), d); err != nil {
		t.Fatalf("notifier: %v", err)
	}
	if got := h.balance(t, maker, usdCode, "0.0000 USD"); got != "1.0000 USD" {
		t.Fatalf("balance = %s", got)
	}
}

func TestWithdraw(t *testing.T) {
	h := newHarness(t, Config{})
	h.deposit(t, maker, usdCode, "10.0000 USD")
	w := transaction.Withdraw{Owner: maker, TargetCode: usdCode, Quantity: asset.MustParse("10.0000 USD")}

	if _, err := h.Withdraw(as(mallory), w); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("foreign withdraw: %v", err)
	}
	if h.gw.count() != 0 {
		t.Fatal("gateway called for unauthorized withdrawal")
	}

	tr, err := h.Withdraw(as(maker), w)
	if err != nil {
		t.Fatal(err)
	}
	if tr.From != custody || tr.To != maker || tr.Memo != "withdraw from custody" || tr.Quantity != w.Quantity {
		t.Fatalf("transfer = %+v", tr)
	}
	if tr.Issuer != issuer(t, usdCode) {
		t.Fatalf("issuer = %s", tr.Issuer)
	}

	// Balance is now a zero row.
	if _, err := h.Withdraw(as(maker), w); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("withdraw from zero balance: %v", err)
	}
	if _, err := h.Withdraw(as(taker), transaction.Withdraw{Owner: taker, TargetCode: usdCode, Quantity: w.Quantity}); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("withdraw without record: %v", err)
	}
	if h.gw.count() != 1 {
		t.Fatalf("gateway transfers = %d, want 1", h.gw.count())
	}
	if len(h.wal.states) != 2 || h.wal.states[0] != "pending" || h.wal.states[1] != "committed" {
		t.Fatalf("wal = %v", h.wal.states)
	}
}

func TestWithdrawGatewayFailureRollsBack(t *testing.T) {
	h := newHarness(t, Config{})
	h.deposit(t, maker, usdCode, "10.0000 USD")
	h.gw.err = errors.New("signer offline")

	_, err := h.Withdraw(as(maker), transaction.Withdraw{Owner: maker, TargetCode: usdCode, Quantity: asset.MustParse("4.0000 USD")})
	if !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("err = %v", err)
	}
	if got := h.balance(t, maker, usdCode, "0.0000 USD"); got != "10.0000 USD" {
		t.Fatalf("debit survived gateway failure: %s", got)
	}
	if len(h.wal.states) != 2 || h.wal.states[1] != "rejected" {
		t.Fatalf("wal = %v", h.wal.states)
	}
}

func TestEventsFollowCommits(t *testing.T) {
	h := newHarness(t, Config{})
	h.deposit(t, maker, usdCode, "10.0000 USD")
	id := placeUSDforEUR(t, h, "10.0000 USD", "10.0000 EUR")
	h.deposit(t, taker, eurCode, "10.0000 EUR")
	if _, err := h.FillOrder(as(taker), transaction.FillOrder{Taker: taker, OrderID: id, Spend: asset.MustParse("10.0000 EUR")}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Withdraw(as(taker), transaction.Withdraw{Owner: taker, TargetCode: usdCode, Quantity: asset.MustParse("10.0000 USD")}); err != nil {
		t.Fatal(err)
	}

	want := []events.Type{
		events.TypeDeposit, events.TypeOrderPlaced, events.TypeDeposit,
		events.TypeOrderFilled, events.TypeOrderClosed, events.TypeWithdrawal,
	}
	if len(h.rec.Events) != len(want) {
		t.Fatalf("events = %d, want %d", len(h.rec.Events), len(want))
	}
	for i, ev := range h.rec.Events {
		if ev.Type != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev.Type, want[i])
		}
	}
	fill := h.rec.Events[3]
	if fill.Account != taker || fill.Counterparty == nil || *fill.Counterparty != maker || fill.Received.String() != "10.0000 USD" {
		t.Errorf("fill event = %+v", fill)
	}
}

func TestExecuteNonces(t *testing.T) {
	h := newHarness(t, Config{})
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	owner := key.Address()
	h.deposit(t, owner, usdCode, "10.0000 USD")

	v := transaction.NewVerifier(crypto.DefaultDomain())
	sign := func(cmd transaction.Command, nonce uint64) *transaction.Envelope {
		tx, err := transaction.NewSigned(cmd, nonce)
		if err != nil {
			t.Fatal(err)
		}
		if err := v.Sign(key, tx); err != nil {
			t.Fatal(err)
		}
		env, err := v.Verify(tx)
		if err != nil {
			t.Fatal(err)
		}
		return env
	}

	withdraw := transaction.Withdraw{Owner: owner, TargetCode: usdCode, Quantity: asset.MustParse("1.0000 USD")}
	rc, err := h.Execute(context.Background(), sign(withdraw, 5))
	if err != nil {
		t.Fatal(err)
	}
	if rc.Transfer == nil || rc.Nonce != 5 {
		t.Fatalf("receipt = %+v", rc)
	}

	if _, err := h.Execute(context.Background(), sign(withdraw, 5)); !errors.Is(err, ErrNonceTooLow) {
		t.Fatalf("replay: %v", err)
	}
	if h.gw.count() != 1 {
		t.Fatal("replayed withdrawal reached the gateway")
	}

	// A failed command does not burn its nonce.
	tooMuch := transaction.Withdraw{Owner: owner, TargetCode: usdCode, Quantity: asset.MustParse("100.0000 USD")}
	if _, err := h.Execute(context.Background(), sign(tooMuch, 6)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("oversized withdraw: %v", err)
	}
	if n, _ := h.Nonce(owner); n != 5 {
		t.Fatalf("nonce = %d after failed command", n)
	}

	place := transaction.PlaceOrder{Maker: owner, Selling: asset.MustParse("2.0000 USD"), SellingCode: usdCode,
		Buying: asset.MustParse("1.0000 EUR"), BuyingCode: eurCode}
	rc, err = h.Execute(context.Background(), sign(place, 6))
	if err != nil || rc.Order == nil || rc.Order.ID != 1 {
		t.Fatalf("place via execute = %+v, %v", rc, err)
	}

	stolen := transaction.Withdraw{Owner: maker, TargetCode: usdCode, Quantity: asset.MustParse("1.0000 USD")}
	if _, err := h.Execute(context.Background(), sign(stolen, 7)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("withdraw for another account: %v", err)
	}
}

func TestStateHashDeterministic(t *testing.T) {
	run := func() *harness {
		h := newHarness(t, Config{})
		h.deposit(t, maker, usdCode, "10.0000 USD")
		placeUSDforEUR(t, h, "4.0000 USD", "2.0000 EUR")
		return h
	}
	a, b := run(), run()
	ha, err := a.StateHash()
	if err != nil {
		t.Fatal(err)
	}
	hb, _ := b.StateHash()
	if ha != hb {
		t.Fatalf("hashes differ: %s vs %s", ha.Hex(), hb.Hex())
	}
	b.deposit(t, taker, eurCode, "1.0000 EUR")
	if hb2, _ := b.StateHash(); hb2 == ha {
		t.Fatal("hash ignores new deposit")
	}
}

func TestReopenRestoresState(t *testing.T) {
	h := newHarness(t, Config{})
	h.deposit(t, maker, usdCode, "10.0000 USD")
	placeUSDforEUR(t, h, "4.0000 USD", "2.0000 EUR")
	hash, _ := h.StateHash()

	again := newHarnessWithStore(t, Config{}, h.store)
	if got, _ := again.StateHash(); got != hash {
		t.Fatal("second engine sees different state")
	}
	if id := placeUSDforEUR(t, again, "1.0000 USD", "1.0000 EUR"); id != 2 {
		t.Fatalf("counter restarted: id = %d", id)
	}
}

func TestCancelledContext(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(as(notifier))
	cancel()
	err := h.Deposit(ctx, transaction.Deposit{From: maker, To: custody, IssuerCode: usdCode, Quantity: asset.MustParse("1.0000 USD")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Custody: custody}, Deps{}); err == nil {
		t.Fatal("engine built without store")
	}
}

func TestDepositsFailClosed(t *testing.T) {
	store, err := storage.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	gw := gateway.GatewayFunc(func(context.Context, gateway.Transfer) error { return nil })

	def := params.Default()
	_, err = New(Config{Custody: def.Custody.Account, Notifier: def.Custody.Notifier}, Deps{Store: store, Gateway: gw})
	if !errors.Is(err, ErrNotifierRequired) {
		t.Fatalf("engine without notifier: %v", err)
	}

	h := newHarness(t, Config{})
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	self := key.Address()
	fake := transaction.Deposit{From: self, To: custody, IssuerCode: usdCode, Quantity: asset.MustParse("1000000.0000 USD")}

	if _, err := h.Execute(context.Background(), &transaction.Envelope{Signer: self, Nonce: 1, Command: fake}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("self-reported deposit: %v", err)
	}
	if err := h.Deposit(context.Background(), fake); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("deposit without signer: %v", err)
	}
	withdraw := transaction.Withdraw{Owner: self, TargetCode: usdCode, Quantity: asset.MustParse("1000000.0000 USD")}
	if _, err := h.Execute(context.Background(), &transaction.Envelope{Signer: self, Nonce: 2, Command: withdraw}); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("withdraw of unbacked funds: %v", err)
	}
	if h.gw.count() != 0 {
		t.Fatalf("gateway sent %d transfers", h.gw.count())
	}
}

func TestAllowUnverifiedDeposits(t *testing.T) {
	h := newHarness(t, Config{AllowUnverifiedDeposits: true})
	d := transaction.Deposit{From: maker, To: custody, IssuerCode: usdCode, Quantity: asset.MustParse("1.0000 USD")}
	if err := h.Deposit(as(maker), d); err != nil {
		t.Fatalf("devnet deposit: %v", err)
	}
	if got := h.balance(t, maker, usdCode, "0.0000 USD"); got != "1.0000 USD" {
		t.Fatalf("balance = %s", got)
	}
}

func TestConcurrentFillsSerialize(t *testing.T) {
	const takers = 8
	h := newHarness(t, Config{})
	h.deposit(t, maker, usdCode, "100.0000 USD")
	id := placeUSDforEUR(t, h, "100.0000 USD", "100.0000 EUR")

	addrs := make([]common.Address, takers)
	for i := range addrs {
		addrs[i] = common.BigToAddress(big.NewInt(int64(100 + i)))
		h.deposit(t, addrs[i], eurCode, "60.0000 EUR")
	}

	// Each fill exceeds half the order, so only the first can succeed.
	spend := asset.MustParse("50.0001 EUR")
	errs := make([]error, takers)
	var wg sync.WaitGroup
	for i, who := range addrs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.FillOrder(as(who), transaction.FillOrder{Taker: who, OrderID: id, Spend: spend})
		}()
	}
	wg.Wait()

	ok := 0
	for i, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrOverFill):
		default:
			t.Fatalf("taker %d: %v", i, err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d fills succeeded, want 1", ok)
	}

	o, err := h.Order(id)
	if err != nil {
		t.Fatal(err)
	}
	if o.Buying.String() != "49.9999 EUR" || o.Selling.String() != "49.9999 USD" {
		t.Fatalf("order left %s / %s", o.Selling, o.Buying)
	}

	totals, err := h.Totals()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, tot := range totals {
		got[tot.Total.Symbol.Code] = tot.Total.String()
	}
	if got["USD"] != "100.0000 USD" || got["EUR"] != "480.0000 EUR" {
		t.Fatalf("totals = %v", got)
	}
}

func TestIssuerAllowlist(t *testing.T) {
	store, err := storage.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	gw := gateway.GatewayFunc(func(context.Context, gateway.Transfer) error { return nil })

	e, err := New(Config{Custody: custody, Notifier: notifier}, Deps{
		Store: store, Gateway: gw, Resolver: asset.Allowlist(usdCode),
	})
	if err != nil {
		t.Fatal(err)
	}
	d := transaction.Deposit{From: maker, To: custody, IssuerCode: usdCode, Quantity: asset.MustParse("1.0000 USD")}
	if err := e.Deposit(as(notifier), d); err != nil {
		t.Fatalf("listed issuer: %v", err)
	}
	d.IssuerCode, d.Quantity = eurCode, asset.MustParse("1.0000 EUR")
	if err := e.Deposit(as(notifier), d); !errors.Is(err, asset.ErrInvalidIssuer) {
		t.Fatalf("unlisted issuer: %v", err)
	}
}

type ctxRecorder struct {
	errs   []error
	events []events.Event
}

func (r *ctxRecorder) Publish(ctx context.Context, evs ...events.Event) error {
	r.errs = append(r.errs, ctx.Err())
	r.events = append(r.events, evs...)
	return nil
}

func TestPublishOutlivesCallerContext(t *testing.T) {
	store, err := storage.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(as(maker))
	defer cancel()
	// The caller gives up once the transfer is out, before the commit.
	gw := gateway.GatewayFunc(func(context.Context, gateway.Transfer) error {
		cancel()
		return nil
	})
	rec := &ctxRecorder{}
	e, err := New(Config{Custody: custody, Notifier: notifier}, Deps{Store: store, Gateway: gw, Publisher: rec})
	if err != nil {
		t.Fatal(err)
	}
	d := transaction.Deposit{From: maker, To: custody, IssuerCode: usdCode, Quantity: asset.MustParse("5.0000 USD")}
	if err := e.Deposit(as(notifier), d); err != nil {
		t.Fatal(err)
	}

	w := transaction.Withdraw{Owner: maker, TargetCode: usdCode, Quantity: asset.MustParse("5.0000 USD")}
	if _, err := e.Withdraw(ctx, w); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if ctx.Err() == nil {
		t.Fatal("caller context still live")
	}
	if len(rec.errs) != 2 || rec.errs[1] != nil {
		t.Fatalf("publish contexts = %v", rec.errs)
	}
	if last := rec.events[len(rec.events)-1]; last.Type != events.TypeWithdrawal {
		t.Fatalf("last event = %s", last.Type)
	}
}
