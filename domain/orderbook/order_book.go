// Package orderbook keeps the resting orders of one pair under
// price-time priority and derives matches from them.
//
// A Book is single-writer. It changes only through Apply, which is fed
// the same events live and during replay, so a replayed book is
// identical to the live one.
package orderbook

import (
	"github.com/cockroachdb/errors"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
)

var ErrInconsistent = errors.New("order book inconsistent")

// Commit persists an event before the book applies it. A Commit error
// aborts matching and leaves the book untouched by that event.
type Commit func(order.Event) error

type Book struct {
	market asset.Market

	bids *RBTree
	asks *RBTree

	index map[order.ID]*entry
}

func New(m asset.Market) *Book {
	return &Book{
		market: m,
		bids:   NewRBTree(),
		asks:   NewRBTree(),
		index:  make(map[order.ID]*entry),
	}
}

// Restore rebuilds a book from orders listed in priority order, as
// returned by Orders.
func Restore(m asset.Market, orders []order.LimitOrder) (*Book, error) {
	b := New(m)
	for _, lo := range orders {
		if err := b.insert(lo); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Book) Market() asset.Market { return b.market }

func (b *Book) Len() int { return len(b.index) }

func (b *Book) Get(id order.ID) (order.LimitOrder, bool) {
	e, ok := b.index[id]
	if !ok {
		return order.LimitOrder{}, false
	}
	return e.order, true
}

func (b *Book) BestBid() (order.LimitOrder, bool) {
	if lvl := b.bids.MaxLevel(); lvl != nil {
		return lvl.Head()
	}
	return order.LimitOrder{}, false
}

func (b *Book) BestAsk() (order.LimitOrder, bool) {
	if lvl := b.asks.MinLevel(); lvl != nil {
		return lvl.Head()
	}
	return order.LimitOrder{}, false
}

// Orders lists resting orders in priority order: bids best first, then
// asks best first, oldest first within a level.
func (b *Book) Orders() []order.LimitOrder {
	var out []order.LimitOrder
	collect := func(lvl *PriceLevel) bool {
		lvl.Each(func(lo order.LimitOrder) bool {
			out = append(out, lo)
			return true
		})
		return true
	}
	b.bids.ForEachDescending(collect)
	b.asks.ForEachAscending(collect)
	return out
}

// -------------------- Matching --------------------

// Match accepts submitted and matches it against the opposite side.
// Every event is passed to commit and then applied.
func (b *Book) Match(submitted order.LimitOrder, now int64, commit Commit) error {
	if err := b.step(order.OrderAdded{Order: submitted, Timestamp: now}, commit); err != nil {
		return err
	}

	for {
		cur, ok := b.index[submitted.ID]
		if !ok {
			return nil
		}
		counter, ok := b.bestCounter(cur.order.Side)
		if !ok {
			return nil
		}

		if counter.Expired(now) {
			ev := order.OrderCancelled{Order: counter, Reason: order.CancelExpired, Timestamp: now}
			if err := b.step(ev, commit); err != nil {
				return err
			}
			continue
		}

		if !crosses(cur.order, counter) {
			return nil
		}

		ev, err := order.Executed(b.market, counter, cur.order, now)
		if err != nil {
			return err
		}
		if ev.ExecutedAmount <= 0 {
			return errors.AssertionFailedf(
				"non-positive execution %d of %s against %s",
				ev.ExecutedAmount, cur.order.ID, counter.ID,
			)
		}
		if err := b.step(ev, commit); err != nil {
			return err
		}
	}
}

// CancelEvent builds the cancellation of a resting order without
// applying it.
func (b *Book) CancelEvent(id order.ID, reason order.CancelReason, now int64) (order.OrderCancelled, bool) {
	e, ok := b.index[id]
	if !ok {
		return order.OrderCancelled{}, false
	}
	return order.OrderCancelled{Order: e.order, Reason: reason, Timestamp: now}, true
}

func (b *Book) step(ev order.Event, commit Commit) error {
	if err := commit(ev); err != nil {
		return err
	}
	return b.Apply(ev)
}

func (b *Book) bestCounter(side order.Side) (order.LimitOrder, bool) {
	if side == order.Buy {
		return b.BestAsk()
	}
	return b.BestBid()
}

func crosses(submitted, counter order.LimitOrder) bool {
	if submitted.Side == order.Buy {
		return counter.Price <= submitted.Price
	}
	return counter.Price >= submitted.Price
}

// -------------------- Apply --------------------

// Apply mutates the book by one event.
func (b *Book) Apply(ev order.Event) error {
	if ev.EventPair() != b.market.Pair {
		return errors.Wrapf(ErrInconsistent, "event for %s applied to %s", ev.EventPair(), b.market.Pair)
	}

	switch e := ev.(type) {
	case order.OrderAdded:
		return b.insert(e.Order)

	case order.OrderExecuted:
		if err := b.execute(e.Counter, e.CounterAfter(b.market)); err != nil {
			return err
		}
		return b.execute(e.Submitted, e.SubmittedAfter(b.market))

	case order.OrderCancelled:
		en, ok := b.index[e.Order.ID]
		if !ok {
			return errors.Wrapf(ErrInconsistent, "cancel of unknown order %s", e.Order.ID)
		}
		b.remove(en)
		return nil

	default:
		return errors.Newf("unexpected event %T", ev)
	}
}

func (b *Book) insert(lo order.LimitOrder) error {
	if _, ok := b.index[lo.ID]; ok {
		return errors.Wrapf(ErrInconsistent, "order %s already resting", lo.ID)
	}
	e := &entry{order: lo}
	b.side(lo.Side).UpsertLevel(lo.Price).enqueue(e)
	b.index[lo.ID] = e
	return nil
}

func (b *Book) execute(before, after order.LimitOrder) error {
	e, ok := b.index[before.ID]
	if !ok {
		return errors.Wrapf(ErrInconsistent, "execution of unknown order %s", before.ID)
	}
	if e.order.Remaining != before.Remaining {
		return errors.Wrapf(ErrInconsistent,
			"order %s remaining %d, execution expected %d",
			before.ID, e.order.Remaining, before.Remaining)
	}
	if after.Terminal(b.market) {
		b.remove(e)
		return nil
	}
	e.level.update(e, after)
	return nil
}

func (b *Book) remove(e *entry) {
	lvl := e.level
	lvl.remove(e)
	if lvl.Empty() {
		b.side(e.order.Side).DeleteLevel(lvl.Price)
	}
	delete(b.index, e.order.ID)
}

func (b *Book) side(s order.Side) *RBTree {
	if s == order.Buy {
		return b.bids
	}
	return b.asks
}
