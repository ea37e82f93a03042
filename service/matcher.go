package service

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
	"dexmatch/infra/metrics"
	"dexmatch/infra/sequence"
	"dexmatch/infra/wal/entry"
	exitwal "dexmatch/infra/wal/exit"
	"dexmatch/ledger"
	"dexmatch/snapshot"
	"dexmatch/store"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateOrder      = errors.New("duplicate order")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNotOwner            = errors.New("order belongs to another address")
	// ErrHalted marks every call after a fatal fault. Only a restart,
	// which recovers from the event log, clears it.
	ErrHalted     = errors.New("matcher halted")
	ErrRecovery   = errors.New("recovery failed")
	ErrNotStarted = errors.New("matcher not started")
)

// Result is the outcome of a submission. A rejected order has
// Accepted false and Reason set; nothing was recorded for it.
type Result struct {
	Accepted   bool
	Reason     error
	Executions []order.OrderExecuted
	// Resting is the order's book entry after matching, nil when it
	// was fully filled or its remainder was dust.
	Resting *order.LimitOrder
}

type Config struct {
	InboxSize int
	RecentIDs int
	// Clock returns unix milliseconds.
	Clock func() int64
}

// Deps are the components the matcher drives. Feed and Metrics are
// optional. The caller owns and closes them.
type Deps struct {
	Registry  *asset.Registry
	Ledger    *ledger.Ledger
	Store     store.OrderStore
	Events    *entry.WAL
	Outbox    *exitwal.Outbox
	Snapshots *snapshot.Store
	Balances  BalanceSource
	Feed      EventFeed
	Metrics   *metrics.Metrics
}

type Matcher struct {
	cfg      Config
	registry *asset.Registry
	ledger   *ledger.Ledger
	store    store.OrderStore
	balances BalanceSource
	snaps    *snapshot.Store
	outbox   *exitwal.Outbox
	events   *entry.WAL
	metrics  *metrics.Metrics
	journal  *journal
	admit    *admission
	pairs    map[asset.Pair]*pairProcessor
	log      *logrus.Entry

	startOnce sync.Once
	started   chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func New(cfg Config, d Deps) (*Matcher, error) {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	if cfg.RecentIDs <= 0 {
		cfg.RecentIDs = 10000
	}
	if cfg.Clock == nil {
		cfg.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	m := &Matcher{
		cfg:      cfg,
		registry: d.Registry,
		ledger:   d.Ledger,
		store:    d.Store,
		balances: d.Balances,
		snaps:    d.Snapshots,
		outbox:   d.Outbox,
		events:   d.Events,
		metrics:  d.Metrics,
		admit:    newAdmission(),
		pairs:    make(map[asset.Pair]*pairProcessor),
		log:      logrus.WithField("component", "matcher"),
		started:  make(chan struct{}),
		stop:     make(chan struct{}),
	}
	m.journal = &journal{
		seq:     sequence.New(0),
		events:  d.Events,
		ledger:  d.Ledger,
		outbox:  d.Outbox,
		feed:    d.Feed,
		metrics: d.Metrics,
		log:     m.log,
		done:    make(chan struct{}),
	}
	for _, mk := range d.Registry.Markets() {
		p, err := newPairProcessor(m, mk)
		if err != nil {
			return nil, err
		}
		m.pairs[mk.Pair] = p
	}
	return m, nil
}

func (m *Matcher) now() int64 { return m.cfg.Clock() }

// Start recovers state from the newest snapshot and the event log, then
// starts accepting orders. It must be called once before any other
// operation.
func (m *Matcher) Start(ctx context.Context) error {
	err := errors.New("matcher already started")
	m.startOnce.Do(func() {
		if err = m.recover(ctx); err != nil {
			err = errors.Mark(err, ErrRecovery)
			return
		}
		for _, p := range m.pairs {
			m.wg.Add(1)
			go func(p *pairProcessor) {
				defer m.wg.Done()
				p.run(m.stop)
			}(p)
		}
		m.wg.Add(1)
		go m.watchLedger()
		close(m.started)
		m.log.WithFields(logrus.Fields{
			"offset": m.journal.seq.Current(),
			"pairs":  len(m.pairs),
		}).Info("matcher started")
	})
	return err
}

func (m *Matcher) watchLedger() {
	defer m.wg.Done()
	for {
		select {
		case err := <-m.ledger.Faults():
			m.metrics.LedgerFault()
			_ = m.journal.halt(err)
		case <-m.stop:
			return
		}
	}
}

// Offset is the last committed offset.
func (m *Matcher) Offset() uint64 { return m.journal.seq.Current() }

// Err returns the halt cause, if any.
func (m *Matcher) Err() error { return m.journal.err() }

// Halted is closed when the matcher halts.
func (m *Matcher) Halted() <-chan struct{} { return m.journal.done }

// -------------------- Commands --------------------

// Submit validates o against its market and the sender's unreserved
// balance, then matches it.
func (m *Matcher) Submit(ctx context.Context, o order.Order) (Result, error) {
	p, err := m.pair(o.Pair)
	if err != nil {
		if errors.Is(err, asset.ErrUnknownPair) {
			m.metrics.OrderRejected(o.Pair.String(), "unknown_pair")
			return Result{Reason: err}, nil
		}
		return Result{}, err
	}
	reply := make(chan submitReply, 1)
	r, err := ask(ctx, m, p, submitMsg{ctx: ctx, order: o, reply: reply}, reply)
	if err != nil {
		return Result{}, err
	}
	return r.result, r.err
}

// Cancel removes sender's resting order id from pair's book.
func (m *Matcher) Cancel(ctx context.Context, sender order.Address, pair asset.Pair, id order.ID) error {
	p, err := m.pair(pair)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	r, err := ask(ctx, m, p, cancelMsg{sender: sender, id: id, reply: reply}, reply)
	if err != nil {
		return err
	}
	return r
}

// -------------------- Queries --------------------

func (m *Matcher) ReservedBalance(ctx context.Context, addr order.Address) (asset.Amounts, error) {
	return m.ledger.ReservedBalance(ctx, addr)
}

// OrderStatus reads the order store, which address processors update
// shortly after each commit.
func (m *Matcher) OrderStatus(id order.ID) (order.Status, error) {
	return m.store.Status(id)
}

// OrderHistory lists addr's active orders followed by its stored
// history, optionally restricted to pair.
func (m *Matcher) OrderHistory(ctx context.Context, addr order.Address, pair *asset.Pair) ([]store.IDInfo, error) {
	active, err := m.ledger.ActiveOrders(ctx, addr, pair)
	if err != nil {
		return nil, err
	}
	return m.store.LoadRemainingOrders(addr, pair, active)
}

// Book returns pair's resting orders, bids best first then asks best
// first, each level in time priority.
func (m *Matcher) Book(ctx context.Context, pair asset.Pair) ([]order.LimitOrder, error) {
	p, err := m.pair(pair)
	if err != nil {
		return nil, err
	}
	reply := make(chan []order.LimitOrder, 1)
	return ask(ctx, m, p, bookMsg{reply: reply}, reply)
}

func (m *Matcher) Markets() []asset.Market {
	return m.registry.Markets()
}

// Close stops the pair processors. In-flight requests fail with
// ErrNotStarted or their context error.
func (m *Matcher) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()
	})
}

func (m *Matcher) pair(p asset.Pair) (*pairProcessor, error) {
	pp, ok := m.pairs[p]
	if !ok {
		return nil, errors.Wrapf(asset.ErrUnknownPair, "%s", p)
	}
	return pp, nil
}

// ask sends msg to a pair processor and waits for its reply.
func ask[R any](ctx context.Context, m *Matcher, p *pairProcessor, msg any, reply chan R) (R, error) {
	var zero R
	select {
	case <-m.started:
	default:
		return zero, ErrNotStarted
	}
	select {
	case p.inbox <- msg:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-m.stop:
		return zero, ErrNotStarted
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-m.stop:
		return zero, ErrNotStarted
	}
}
