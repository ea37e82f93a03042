package service

import (
	"context"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
	"dexmatch/domain/orderbook"
	"dexmatch/snapshot"
)

type submitMsg struct {
	ctx   context.Context
	order order.Order
	reply chan submitReply
}

type submitReply struct {
	result Result
	err    error
}

type cancelMsg struct {
	sender order.Address
	id     order.ID
	reply  chan error
}

type bookMsg struct {
	reply chan []order.LimitOrder
}

// bookStateMsg asks for the book as of offset at or later. Every event
// of the pair committed before the request is already applied, so an
// idle book is current as of at.
type bookStateMsg struct {
	at    uint64
	reply chan snapshot.BookState
}

// pairProcessor owns one pair's book. Only run touches book and offset
// once the matcher has started.
type pairProcessor struct {
	m      *Matcher
	market asset.Market
	book   *orderbook.Book
	offset uint64
	recent *lru.Cache
	inbox  chan any
	log    *logrus.Entry
}

func newPairProcessor(m *Matcher, market asset.Market) (*pairProcessor, error) {
	recent, err := lru.New(m.cfg.RecentIDs)
	if err != nil {
		return nil, err
	}
	return &pairProcessor{
		m:      m,
		market: market,
		book:   orderbook.New(market),
		recent: recent,
		inbox:  make(chan any, m.cfg.InboxSize),
		log:    logrus.WithFields(logrus.Fields{"component": "pair", "pair": market.Pair.String()}),
	}, nil
}

func (p *pairProcessor) run(stop <-chan struct{}) {
	for {
		select {
		case msg := <-p.inbox:
			p.handle(msg)
		case <-stop:
			return
		}
	}
}

func (p *pairProcessor) handle(msg any) {
	switch m := msg.(type) {
	case submitMsg:
		res, err := p.submit(m.ctx, m.order)
		m.reply <- submitReply{result: res, err: err}
	case cancelMsg:
		m.reply <- p.cancel(m.sender, m.id)
	case bookMsg:
		m.reply <- p.book.Orders()
	case bookStateMsg:
		m.reply <- snapshot.BookState{Pair: p.market.Pair, Offset: max(p.offset, m.at), Orders: p.book.Orders()}
	}
}

// submit validates o and, when it passes, matches it. A rejection is
// reported in Result; an error means the outcome is unknown or the
// matcher cannot continue.
func (p *pairProcessor) submit(ctx context.Context, o order.Order) (Result, error) {
	if err := p.m.journal.err(); err != nil {
		return Result{}, err
	}
	now := p.m.now()

	unlock := p.m.admit.lock(o.Sender)
	defer unlock()

	reason, err := p.validate(ctx, o, now)
	if err != nil {
		return Result{}, err
	}
	if reason != nil {
		p.m.metrics.OrderRejected(p.market.Pair.String(), reasonLabel(reason))
		return Result{Reason: reason}, nil
	}

	p.recent.Add(o.ID, struct{}{})
	res := Result{Accepted: true}
	err = p.book.Match(order.NewLimitOrder(o), now, func(ev order.Event) error {
		offset, err := p.m.journal.commit(ev)
		if err != nil {
			return err
		}
		p.offset = offset
		if e, ok := ev.(order.OrderExecuted); ok {
			res.Executions = append(res.Executions, e)
			p.m.metrics.Executed(p.market.Pair.String())
		}
		return nil
	})
	if err != nil {
		return Result{}, p.fail(err)
	}
	p.m.metrics.OrderAccepted(p.market.Pair.String())

	if lo, ok := p.book.Get(o.ID); ok {
		res.Resting = &lo
	}
	return res, nil
}

// validate returns the rejection reason, or an error when validation
// itself could not complete.
func (p *pairProcessor) validate(ctx context.Context, o order.Order, now int64) (reason, err error) {
	if err := o.Validate(p.market, now); err != nil {
		return err, nil
	}

	if p.recent.Contains(o.ID) {
		return errors.Wrapf(ErrDuplicateOrder, "%s", o.ID), nil
	}
	if _, ok := p.book.Get(o.ID); ok {
		return errors.Wrapf(ErrDuplicateOrder, "%s", o.ID), nil
	}
	seen, err := p.m.store.Contains(o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "duplicate check")
	}
	if seen {
		return errors.Wrapf(ErrDuplicateOrder, "%s", o.ID), nil
	}

	need, err := order.NewLimitOrder(o).Reservation(p.market)
	if err != nil {
		return err, nil
	}
	reserved, err := p.m.ledger.ReservedBalance(ctx, o.Sender)
	if err != nil {
		return nil, err
	}
	for a, v := range need {
		total, err := p.m.balances.Balance(ctx, o.Sender, a)
		if err != nil {
			return nil, errors.Wrapf(err, "balance of %s", o.Sender)
		}
		if free := total - reserved[a]; free < v {
			return errors.Wrapf(ErrInsufficientBalance, "%s: need %d, free %d", a, v, free), nil
		}
	}
	return nil, nil
}

func (p *pairProcessor) cancel(sender order.Address, id order.ID) error {
	if err := p.m.journal.err(); err != nil {
		return err
	}
	ev, ok := p.book.CancelEvent(id, order.CancelRequested, p.m.now())
	if !ok {
		return errors.Wrapf(ErrOrderNotFound, "%s", id)
	}
	if ev.Order.Sender != sender {
		return errors.Wrapf(ErrNotOwner, "%s", id)
	}
	offset, err := p.m.journal.commit(ev)
	if err != nil {
		return err
	}
	p.offset = offset
	if err := p.book.Apply(ev); err != nil {
		return p.fail(err)
	}
	return nil
}

// fail halts the matcher unless it already is; a failed commit or apply
// leaves the book and the log out of step.
func (p *pairProcessor) fail(err error) error {
	if errors.Is(err, ErrHalted) {
		return err
	}
	p.log.WithError(err).Error("pair processor failed")
	return p.m.journal.halt(err)
}

// restore replaces the book with a snapshot image taken at offset.
func (p *pairProcessor) restore(bs snapshot.BookState) error {
	book, err := orderbook.Restore(p.market, bs.Orders)
	if err != nil {
		return errors.Wrapf(err, "restore %s", p.market.Pair)
	}
	p.book = book
	p.offset = bs.Offset
	return nil
}

// replay applies a logged event during recovery. Events at or below the
// book's snapshot offset are already in it.
func (p *pairProcessor) replay(offset uint64, ev order.Event) error {
	if offset <= p.offset {
		return nil
	}
	if err := p.book.Apply(ev); err != nil {
		return errors.Wrapf(err, "replay offset %d", offset)
	}
	if added, ok := ev.(order.OrderAdded); ok {
		p.recent.Add(added.Order.ID, struct{}{})
	}
	p.offset = offset
	return nil
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, order.ErrMalformed):
		return "malformed"
	case errors.Is(err, order.ErrExpired):
		return "expired"
	case errors.Is(err, order.ErrAmountTooSmall):
		return "amount_too_small"
	case errors.Is(err, ErrDuplicateOrder):
		return "duplicate"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, asset.ErrOverflow):
		return "overflow"
	default:
		return "other"
	}
}
