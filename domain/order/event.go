package order

import (
	"dexmatch/domain/asset"
)

// Event is a lifecycle event. Events are the only input to the book, the
// ledger and the store, both live and during replay.
type Event interface {
	EventPair() asset.Pair
	EventTime() int64
	// Owners are the addresses whose reservations the event touches.
	Owners() []Address
}

type CancelReason uint8

const (
	CancelRequested CancelReason = iota
	CancelExpired
)

func (r CancelReason) String() string {
	if r == CancelExpired {
		return "expired"
	}
	return "requested"
}

// OrderAdded places an accepted order into the book.
type OrderAdded struct {
	Order     LimitOrder
	Timestamp int64
}

func (e OrderAdded) EventPair() asset.Pair { return e.Order.Pair }
func (e OrderAdded) EventTime() int64      { return e.Timestamp }
func (e OrderAdded) Owners() []Address     { return []Address{e.Order.Sender} }

// OrderExecuted is one match between a resting counter order and the
// submitted order. Counter and Submitted are the views before the match.
type OrderExecuted struct {
	Counter              LimitOrder
	Submitted            LimitOrder
	ExecutedAmount       int64
	CounterRemaining     int64
	SubmittedRemaining   int64
	ExecutedPrice        int64
	CounterExecutedFee   int64
	SubmittedExecutedFee int64
	Timestamp            int64
}

func (e OrderExecuted) EventPair() asset.Pair { return e.Submitted.Pair }
func (e OrderExecuted) EventTime() int64      { return e.Timestamp }

func (e OrderExecuted) Owners() []Address {
	if e.Counter.Sender == e.Submitted.Sender {
		return []Address{e.Counter.Sender}
	}
	return []Address{e.Counter.Sender, e.Submitted.Sender}
}

// CounterAfter is the counter order once the execution is applied. A
// dust remainder is reported as Filled but kept in Remaining.
func (e OrderExecuted) CounterAfter(m asset.Market) LimitOrder {
	return e.Counter.partial(m, e.CounterRemaining, e.CounterExecutedFee)
}

func (e OrderExecuted) SubmittedAfter(m asset.Market) LimitOrder {
	return e.Submitted.partial(m, e.SubmittedRemaining, e.SubmittedExecutedFee)
}

// Executed computes the match of submitted against the resting counter
// at the counter's price. The amount is the smaller of the submitted
// remainder and the counter remainder corrected to a lossless amount.
func Executed(m asset.Market, counter, submitted LimitOrder, ts int64) (OrderExecuted, error) {
	corrected, err := m.CorrectAmount(counter.Remaining, counter.Price)
	if err != nil {
		return OrderExecuted{}, err
	}
	executed := min(submitted.Remaining, corrected)

	cfee, err := counter.ExecutedFee(executed)
	if err != nil {
		return OrderExecuted{}, err
	}
	sfee, err := submitted.ExecutedFee(executed)
	if err != nil {
		return OrderExecuted{}, err
	}

	return OrderExecuted{
		Counter:              counter,
		Submitted:            submitted,
		ExecutedAmount:       executed,
		CounterRemaining:     counter.Remaining - executed,
		SubmittedRemaining:   submitted.Remaining - executed,
		ExecutedPrice:        counter.Price,
		CounterExecutedFee:   cfee,
		SubmittedExecutedFee: sfee,
		Timestamp:            ts,
	}, nil
}

// OrderCancelled removes an order from the book. Order is the view at
// the moment of cancellation.
type OrderCancelled struct {
	Order     LimitOrder
	Reason    CancelReason
	Timestamp int64
}

func (e OrderCancelled) EventPair() asset.Pair { return e.Order.Pair }
func (e OrderCancelled) EventTime() int64      { return e.Timestamp }
func (e OrderCancelled) Owners() []Address     { return []Address{e.Order.Sender} }
