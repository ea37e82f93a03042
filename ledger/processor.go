package ledger

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
	"dexmatch/store"
)

type message any

type applyMsg struct {
	offset uint64
	event  order.Event
}

type queryReservedMsg struct {
	reply chan reservedReply
}

type reservedReply struct {
	amounts asset.Amounts
	err     error
}

type queryActiveMsg struct {
	pair  *asset.Pair
	reply chan activeReply
}

type activeReply struct {
	orders []store.IDInfo
	err    error
}

type snapshotMsg struct {
	reply chan stateReply
}

type stateReply struct {
	state AddressState
	err   error
}

type syncMsg struct {
	done chan struct{}
}

type openOrder struct {
	order    order.LimitOrder
	reserved asset.Amounts
}

// processor owns one address. All fields are touched only by run.
type processor struct {
	addr  order.Address
	inbox chan message
	l     *Ledger
	log   *logrus.Entry

	offset   uint64
	reserved asset.Amounts
	open     map[order.ID]*openOrder
	history  map[order.ID]order.Info
	failed   error
}

func newProcessor(l *Ledger, addr order.Address) *processor {
	return &processor{
		addr:     addr,
		inbox:    make(chan message, l.cfg.InboxSize),
		l:        l,
		log:      l.log.WithField("address", addr),
		reserved: asset.Amounts{},
		open:     make(map[order.ID]*openOrder),
		history:  make(map[order.ID]order.Info),
	}
}

func restoreProcessor(l *Ledger, offset uint64, st AddressState) (*processor, error) {
	p := newProcessor(l, st.Address)
	p.offset = offset
	p.reserved = amountsOf(st.Reserved)

	sum := asset.Amounts{}
	for _, oo := range st.Open {
		res := amountsOf(oo.Reserved)
		p.open[oo.Order.ID] = &openOrder{order: oo.Order, reserved: res}
		for a, v := range res {
			sum.Add(a, v)
		}
	}
	for _, h := range st.History {
		p.history[h.ID] = h.Info
	}
	for a, v := range sum {
		if p.reserved[a] != v {
			return nil, errors.Mark(
				errors.AssertionFailedf("reserved %s %d, open orders hold %d", a, p.reserved[a], v),
				ErrInconsistent,
			)
		}
	}
	if len(sum) != len(p.reserved) {
		return nil, errors.Mark(errors.AssertionFailedf("reserved assets without open orders"), ErrInconsistent)
	}

	for _, h := range st.History {
		ok, err := l.store.Contains(h.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			err = l.store.UpdateOrderInfo(h.ID, h.Info)
		} else {
			err = l.store.SaveOrderInfo(h.ID, st.Address, h.Info)
		}
		if err != nil {
			return nil, err
		}
	}
	for _, oo := range st.Open {
		if err := l.store.SaveOrder(oo.Order.Order); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *processor) run(stop <-chan struct{}) {
	for {
		select {
		case msg := <-p.inbox:
			p.handle(msg)
		case <-stop:
			return
		}
	}
}

func (p *processor) handle(msg message) {
	switch m := msg.(type) {
	case applyMsg:
		if p.failed != nil || m.offset <= p.offset {
			return
		}
		if err := p.apply(m.event); err != nil {
			p.failed = errors.Wrapf(err, "address %s at offset %d", p.addr, m.offset)
			p.log.WithError(p.failed).WithField("offset", m.offset).Error("processor halted")
			p.l.fault(p.failed)
			return
		}
		p.offset = m.offset

	case queryReservedMsg:
		if p.failed != nil {
			m.reply <- reservedReply{err: p.failed}
			return
		}
		m.reply <- reservedReply{amounts: p.reserved.Clone()}

	case queryActiveMsg:
		if p.failed != nil {
			m.reply <- activeReply{err: p.failed}
			return
		}
		m.reply <- activeReply{orders: p.active(m.pair)}

	case snapshotMsg:
		if p.failed != nil {
			m.reply <- stateReply{err: p.failed}
			return
		}
		m.reply <- stateReply{state: p.state()}

	case syncMsg:
		close(m.done)
	}
}

// -------------------- events --------------------

func (p *processor) apply(ev order.Event) error {
	m, err := p.l.markets.Market(ev.EventPair())
	if err != nil {
		return err
	}

	switch e := ev.(type) {
	case order.OrderAdded:
		return p.add(m, e.Order)

	case order.OrderExecuted:
		if e.Counter.Sender == p.addr {
			if err := p.update(m, e.CounterAfter(m)); err != nil {
				return err
			}
		}
		if e.Submitted.Sender == p.addr {
			return p.update(m, e.SubmittedAfter(m))
		}
		return nil

	case order.OrderCancelled:
		return p.cancel(e.Order)
	}
	return errors.AssertionFailedf("unexpected event %T", ev)
}

func (p *processor) add(m asset.Market, lo order.LimitOrder) error {
	if _, ok := p.open[lo.ID]; ok {
		return errors.Mark(errors.AssertionFailedf("order %s added twice", lo.ID), ErrInconsistent)
	}
	res, err := lo.Reservation(m)
	if err != nil {
		return err
	}
	p.hold(res)
	p.open[lo.ID] = &openOrder{order: lo, reserved: res}

	info := order.InfoOf(lo)
	p.history[lo.ID] = info
	if err := p.l.store.SaveOrderInfo(lo.ID, p.addr, info); err != nil {
		p.storeFailed(lo.ID, err)
	}
	if err := p.l.store.SaveOrder(lo.Order); err != nil {
		p.storeFailed(lo.ID, err)
	}
	return p.checkNonNegative()
}

// update moves an open order to its post-execution view. The new
// reservation is recomputed from the remaining amount at the order's own
// price, and is empty once the remainder is zero or dust.
func (p *processor) update(m asset.Market, after order.LimitOrder) error {
	oo, ok := p.open[after.ID]
	if !ok {
		return errors.Mark(errors.AssertionFailedf("execution of unknown order %s", after.ID), ErrInconsistent)
	}
	next, err := after.Reservation(m)
	if err != nil {
		return err
	}
	p.release(oo.reserved)
	p.hold(next)

	if after.Terminal(m) {
		delete(p.open, after.ID)
	} else {
		oo.order = after
		oo.reserved = next
	}

	p.record(after.ID, order.InfoOf(after))
	return p.checkNonNegative()
}

func (p *processor) cancel(lo order.LimitOrder) error {
	oo, ok := p.open[lo.ID]
	if !ok {
		return errors.Mark(errors.AssertionFailedf("cancel of unknown order %s", lo.ID), ErrInconsistent)
	}
	p.release(oo.reserved)
	delete(p.open, lo.ID)

	p.record(lo.ID, order.Cancelled(oo.order))
	return p.checkNonNegative()
}

func (p *processor) hold(a asset.Amounts) {
	for k, v := range a {
		p.reserved.Add(k, v)
	}
}

func (p *processor) release(a asset.Amounts) {
	for k, v := range a {
		p.reserved.Add(k, -v)
	}
}

func (p *processor) checkNonNegative() error {
	for a, v := range p.reserved {
		if v < 0 {
			return errors.Mark(
				errors.AssertionFailedf("address %s: reserved %s is %d", p.addr, a, v),
				ErrInconsistent,
			)
		}
	}
	return nil
}

func (p *processor) record(id order.ID, info order.Info) {
	p.history[id] = info
	if err := p.l.store.UpdateOrderInfo(id, info); err != nil {
		p.storeFailed(id, err)
	}
}

// Store failures do not stop the processor: history is also kept here
// and written back to the store on the next restore.
func (p *processor) storeFailed(id order.ID, err error) {
	p.log.WithError(err).WithField("order", id.String()).Error("order store write failed")
}

// -------------------- queries --------------------

func (p *processor) active(pair *asset.Pair) []store.IDInfo {
	var out []store.IDInfo
	for id, oo := range p.open {
		if pair != nil && oo.order.Pair != *pair {
			continue
		}
		out = append(out, store.IDInfo{ID: id, Info: p.history[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Info.Timestamp != out[j].Info.Timestamp {
			return out[i].Info.Timestamp > out[j].Info.Timestamp
		}
		return lessID(out[i].ID, out[j].ID)
	})
	return out
}

func (p *processor) state() AddressState {
	st := AddressState{
		Address:  p.addr,
		Offset:   p.offset,
		Reserved: sortedAmounts(p.reserved),
	}
	for _, oo := range p.open {
		st.Open = append(st.Open, OpenOrder{Order: oo.order, Reserved: sortedAmounts(oo.reserved)})
	}
	sort.Slice(st.Open, func(i, j int) bool { return lessID(st.Open[i].Order.ID, st.Open[j].Order.ID) })

	for id, info := range p.history {
		st.History = append(st.History, HistoryEntry{ID: id, Info: info})
	}
	sort.Slice(st.History, func(i, j int) bool { return lessID(st.History[i].ID, st.History[j].ID) })
	return st
}
