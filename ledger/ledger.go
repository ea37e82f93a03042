// Package ledger keeps the reserved balance of every address.
//
// Each address is owned by one processor goroutine that consumes
// lifecycle events in offset order and answers queries through its
// inbox. Processors share no mutable state; the Ledger only routes
// messages to them.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
	"dexmatch/store"
)

var (
	// ErrUnavailable marks a query that did not complete in time. It is
	// transient and has no effect on state.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrInconsistent marks a fatal accounting fault.
	ErrInconsistent = errors.New("reserved balance inconsistent")
)

type Config struct {
	InboxSize    int
	QueryTimeout time.Duration
}

// Markets resolves the precision of a pair; *asset.Registry implements it.
type Markets interface {
	Market(asset.Pair) (asset.Market, error)
}

type Ledger struct {
	cfg     Config
	markets Markets
	store   store.OrderStore
	log     *logrus.Entry

	mu    sync.Mutex
	procs map[order.Address]*processor

	faults chan error
	stop   chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, markets Markets, st store.OrderStore) *Ledger {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 256
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	return &Ledger{
		cfg:     cfg,
		markets: markets,
		store:   st,
		log:     logrus.WithField("component", "ledger"),
		procs:   make(map[order.Address]*processor),
		faults:  make(chan error, 16),
		stop:    make(chan struct{}),
	}
}

// Faults delivers fatal processor errors. After a fault the affected
// processor ignores further events and fails queries.
func (l *Ledger) Faults() <-chan error {
	return l.faults
}

// Apply routes an event to the processors of its owners. Callers must
// apply events in offset order; the journal does so under its lock.
func (l *Ledger) Apply(offset uint64, ev order.Event) {
	for _, addr := range ev.Owners() {
		l.send(l.processor(addr), applyMsg{offset: offset, event: ev})
	}
}

// ReservedBalance returns the address's reserved amounts per asset.
func (l *Ledger) ReservedBalance(ctx context.Context, addr order.Address) (asset.Amounts, error) {
	p, ok := l.lookup(addr)
	if !ok {
		return asset.Amounts{}, nil
	}
	reply := make(chan reservedReply, 1)
	r, err := roundTrip(ctx, l, p, queryReservedMsg{reply: reply}, reply)
	if err != nil {
		return nil, errors.Wrapf(err, "reserved balance of %s", addr)
	}
	return r.amounts, r.err
}

// ActiveOrders lists the address's open orders, newest first.
func (l *Ledger) ActiveOrders(ctx context.Context, addr order.Address, pair *asset.Pair) ([]store.IDInfo, error) {
	p, ok := l.lookup(addr)
	if !ok {
		return nil, nil
	}
	reply := make(chan activeReply, 1)
	r, err := roundTrip(ctx, l, p, queryActiveMsg{pair: pair, reply: reply}, reply)
	if err != nil {
		return nil, errors.Wrapf(err, "active orders of %s", addr)
	}
	return r.orders, r.err
}

// Sync waits until every processor has handled all messages enqueued
// before the call.
func (l *Ledger) Sync(ctx context.Context) error {
	var dones []chan struct{}
	for _, p := range l.all() {
		done := make(chan struct{})
		if !l.trySend(ctx, p, syncMsg{done: done}) {
			return errors.Mark(ctx.Err(), ErrUnavailable)
		}
		dones = append(dones, done)
	}
	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return errors.Mark(ctx.Err(), ErrUnavailable)
		}
	}
	return nil
}

func (l *Ledger) Close() {
	close(l.stop)
	l.wg.Wait()
}

// -------------------- Snapshot --------------------

// SnapshotRequest collects address states requested at one offset.
type SnapshotRequest struct {
	replies []chan stateReply
}

// RequestSnapshot enqueues a state request to every processor. Called
// under the journal lock, every processor answers with exactly the
// events committed before the call applied.
func (l *Ledger) RequestSnapshot() *SnapshotRequest {
	req := &SnapshotRequest{}
	for _, p := range l.all() {
		reply := make(chan stateReply, 1)
		l.send(p, snapshotMsg{reply: reply})
		req.replies = append(req.replies, reply)
	}
	return req
}

// Wait returns the address states ordered by address.
func (r *SnapshotRequest) Wait(ctx context.Context) ([]AddressState, error) {
	out := make([]AddressState, 0, len(r.replies))
	for _, reply := range r.replies {
		select {
		case sr := <-reply:
			if sr.err != nil {
				return nil, sr.err
			}
			out = append(out, sr.state)
		case <-ctx.Done():
			return nil, errors.Mark(ctx.Err(), ErrUnavailable)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// Restore recreates processors from a snapshot taken at offset and
// writes their history back to the store. It must run before the first
// Apply.
func (l *Ledger) Restore(offset uint64, states []AddressState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.procs) > 0 {
		return errors.AssertionFailedf("ledger restore after %d processors started", len(l.procs))
	}
	for _, st := range states {
		p, err := restoreProcessor(l, offset, st)
		if err != nil {
			return errors.Wrapf(err, "restore %s", st.Address)
		}
		l.procs[st.Address] = p
		l.start(p)
	}
	l.log.WithFields(logrus.Fields{"offset": offset, "addresses": len(states)}).Info("ledger restored")
	return nil
}

// -------------------- routing --------------------

func (l *Ledger) processor(addr order.Address) *processor {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.procs[addr]
	if !ok {
		p = newProcessor(l, addr)
		l.procs[addr] = p
		l.start(p)
	}
	return p
}

func (l *Ledger) lookup(addr order.Address) (*processor, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.procs[addr]
	return p, ok
}

func (l *Ledger) all() []*processor {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*processor, 0, len(l.procs))
	for _, p := range l.procs {
		out = append(out, p)
	}
	return out
}

func (l *Ledger) start(p *processor) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		p.run(l.stop)
	}()
}

func (l *Ledger) send(p *processor, msg message) {
	select {
	case p.inbox <- msg:
	case <-l.stop:
	}
}

func (l *Ledger) trySend(ctx context.Context, p *processor, msg message) bool {
	select {
	case p.inbox <- msg:
		return true
	case <-ctx.Done():
		return false
	case <-l.stop:
		return false
	}
}

// roundTrip sends a query and waits for its reply within QueryTimeout.
func roundTrip[R any](ctx context.Context, l *Ledger, p *processor, msg message, reply chan R) (R, error) {
	var zero R
	ctx, cancel := context.WithTimeout(ctx, l.cfg.QueryTimeout)
	defer cancel()

	if !l.trySend(ctx, p, msg) {
		return zero, errors.Mark(errors.New("query not accepted"), ErrUnavailable)
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return zero, errors.Mark(ctx.Err(), ErrUnavailable)
	}
}

func (l *Ledger) fault(err error) {
	select {
	case l.faults <- err:
	default:
		l.log.WithError(err).Error("fault channel full")
	}
}
