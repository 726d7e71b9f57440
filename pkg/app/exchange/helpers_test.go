package exchange

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core/asset"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/events"
	"github.com/uhyunpark/custodex/pkg/gateway"
	"github.com/uhyunpark/custodex/pkg/storage"
	"github.com/uhyunpark/custodex/pkg/util"
)

var (
	custody  = common.HexToAddress("0xC0570D0000000000000000000000000000000000")
	maker    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	taker    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	mallory  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	notifier = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

const (
	usdCode = "usd.token"
	eurCode = "eur.token"
)

type fakeGateway struct {
	mu        sync.Mutex
	transfers []gateway.Transfer
	err       error
}

func (g *fakeGateway) Transfer(_ context.Context, t gateway.Transfer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.transfers = append(g.transfers, t)
	return nil
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.transfers)
}

type memWAL struct {
	states []string
}

func (w *memWAL) Append(rec any) error {
	w.states = append(w.states, rec.(walRecord).State)
	return nil
}

// tb is the part of testing.TB the helpers need; *rapid.T satisfies it too.
type tb interface {
	Helper()
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

type harness struct {
	*Engine
	store *storage.Store
	gw    *fakeGateway
	rec   *events.Recorder
	clock *util.ManualClock
	wal   *memWAL
}

func newHarness(t testing.TB, cfg Config) *harness {
	t.Helper()
	store, err := storage.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return newHarnessWithStore(t, cfg, store)
}

func newHarnessWithStore(t tb, cfg Config, store *storage.Store) *harness {
	t.Helper()
	if cfg.Custody == (common.Address{}) {
		cfg.Custody = custody
	}
	if cfg.Notifier == (common.Address{}) && !cfg.AllowUnverifiedDeposits {
		cfg.Notifier = notifier
	}
	h := &harness{
		store: store,
		gw:    &fakeGateway{},
		rec:   &events.Recorder{},
		clock: util.NewManualClock(time.Unix(1_700_000_000, 0)),
		wal:   &memWAL{},
	}
	e, err := New(cfg, Deps{
		Store:     store,
		Gateway:   h.gw,
		Publisher: h.rec,
		WAL:       h.wal,
		Clock:     h.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.Engine = e
	return h
}

func as(addr common.Address) context.Context {
	return transaction.WithSigner(context.Background(), addr)
}

func issuer(t tb, code string) asset.IssuerID {
	t.Helper()
	id, err := asset.NameResolver{}.Resolve(code)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func (h *harness) deposit(t tb, from common.Address, code, qty string) {
	t.Helper()
	err := h.Deposit(as(h.Config().Notifier), transaction.Deposit{
		From: from, To: custody, IssuerCode: code, Quantity: asset.MustParse(qty),
	})
	if err != nil {
		t.Fatalf("deposit %s %s: %v", qty, from.Hex(), err)
	}
}

// balance returns the owner's amount of qty's symbol, treating a missing row
// as zero.
func (h *harness) balance(t tb, owner common.Address, code, sym string) string {
	t.Helper()
	a := asset.MustParse(sym)
	got, err := h.Balance(owner, issuer(t, code), a.Symbol)
	if err != nil {
		return asset.New(0, a.Symbol).String()
	}
	return got.String()
}
