// Package exchange is the settlement engine. It owns the balance ledger, the
// order book and the id counter, and is the only code that mutates them.
//
// Every operation runs under one mutex inside one storage transaction, so
// operations are serialized and either fully applied or not at all.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/app/core/asset"
	"github.com/uhyunpark/custodex/pkg/app/core/book"
	"github.com/uhyunpark/custodex/pkg/events"
	"github.com/uhyunpark/custodex/pkg/gateway"
	"github.com/uhyunpark/custodex/pkg/metrics"
	"github.com/uhyunpark/custodex/pkg/storage"
	"github.com/uhyunpark/custodex/pkg/util"
)

type Config struct {
	// Custody is the exchange's own account: deposits must name it as
	// recipient and withdrawals are sent from it.
	Custody common.Address
	// Notifier is the only caller allowed to report deposits.
	Notifier common.Address
	// AllowUnverifiedDeposits accepts deposits from any caller when Notifier
	// is zero. Devnet only: it lets anyone credit themselves.
	AllowUnverifiedDeposits bool
}

// Deps are the engine's collaborators. Only Store and Gateway are required.
type Deps struct {
	Store      *storage.Store
	Gateway    gateway.Gateway
	Authorizer Authorizer
	Publisher  events.Publisher
	Resolver   asset.Resolver
	WAL        storage.WAL
	Metrics    *metrics.Metrics
	Clock      util.Clock
	Logger     *zap.SugaredLogger
}

type Engine struct {
	mu sync.Mutex

	cfg      Config
	store    *storage.Store
	gateway  gateway.Gateway
	auth     Authorizer
	pub      events.Publisher
	resolver asset.Resolver
	wal      storage.WAL
	metrics  *metrics.Metrics
	clock    util.Clock
	log      *zap.SugaredLogger

	openOrders int
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("exchange: store required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("exchange: gateway required")
	}
	if cfg.Custody == (common.Address{}) {
		return nil, errors.New("exchange: custody account required")
	}
	if cfg.Notifier == (common.Address{}) && !cfg.AllowUnverifiedDeposits {
		return nil, ErrNotifierRequired
	}
	e := &Engine{
		cfg:      cfg,
		store:    deps.Store,
		gateway:  deps.Gateway,
		auth:     deps.Authorizer,
		pub:      deps.Publisher,
		resolver: deps.Resolver,
		wal:      deps.WAL,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		log:      util.Sugar(deps.Logger),
	}
	if e.auth == nil {
		e.auth = SignerAuthorizer{}
	}
	if e.pub == nil {
		e.pub = events.Nop{}
	}
	if e.resolver == nil {
		e.resolver = asset.NameResolver{}
	}
	if e.wal == nil {
		e.wal = storage.NewNopWAL()
	}
	if e.clock == nil {
		e.clock = util.RealClock{}
	}

	open, err := book.List(e.store)
	if err != nil {
		return nil, fmt.Errorf("exchange: load book: %w", err)
	}
	e.openOrders = len(open)
	e.metrics.SetOpenOrders(e.openOrders)
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// unit is the state of one in-flight operation.
type unit struct {
	ctx      context.Context
	txn      *storage.Txn
	now      time.Time
	events   []events.Event
	transfer *gateway.Transfer
	// openDelta is applied to the open order count on commit.
	openDelta int
}

func (u *unit) emit(ev events.Event) {
	ev.Time = u.now
	u.events = append(u.events, ev)
}

// run executes fn under the engine lock in a fresh transaction and commits
// when fn succeeds. Events are published only after a successful commit and
// are not cut short if the caller's context ends after the commit.
func (e *Engine) run(ctx context.Context, op string, fn func(u *unit) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	u := &unit{ctx: ctx, txn: e.store.Begin(), now: e.clock.Now()}
	defer u.txn.Discard()

	err := fn(u)
	if err == nil && !u.txn.Empty() {
		if cerr := u.txn.Commit(); cerr != nil {
			err = cerr
			if u.transfer != nil {
				e.log.Errorw("transfer_sent_but_commit_failed",
					"transfer_id", u.transfer.ID, "to", u.transfer.To.Hex(),
					"quantity", u.transfer.Quantity.String(), "err", cerr)
				e.journal("uncommitted", *u.transfer, cerr)
			}
		}
	}
	e.metrics.ObserveOperation(op, resultLabel(err), time.Since(start))
	if err != nil {
		e.log.Warnw("operation_rejected", "op", op, "err", err)
		return err
	}

	if u.transfer != nil {
		e.journal("committed", *u.transfer, nil)
	}
	if u.openDelta != 0 {
		e.openOrders += u.openDelta
		e.metrics.SetOpenOrders(e.openOrders)
	}
	if len(u.events) > 0 {
		if perr := e.pub.Publish(context.WithoutCancel(ctx), u.events...); perr != nil {
			e.log.Warnw("event_publish_failed", "op", op, "count", len(u.events), "err", perr)
		}
	}
	return nil
}

type walRecord struct {
	State    string           `json:"state"`
	Transfer gateway.Transfer `json:"transfer"`
	Error    string           `json:"error,omitempty"`
}

func (e *Engine) journal(state string, t gateway.Transfer, cause error) {
	rec := walRecord{State: state, Transfer: t}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := e.wal.Append(rec); err != nil {
		e.log.Errorw("wal_append_failed", "state", state, "transfer_id", t.ID, "err", err)
	}
}

func (e *Engine) resolve(code string) (asset.IssuerID, error) {
	id, err := e.resolver.Resolve(code)
	if err != nil {
		return 0, fmt.Errorf("resolve issuer %q: %w", code, err)
	}
	return id, nil
}
