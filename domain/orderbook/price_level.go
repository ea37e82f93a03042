package orderbook

import "dexmatch/domain/order"

// PriceLevel is a FIFO queue of resting orders at a single price.
type PriceLevel struct {
	Price int64

	head *entry
	tail *entry

	TotalRemaining int64
	OrderCount     int
}

func (p *PriceLevel) enqueue(e *entry) {
	e.level = p
	if p.head == nil {
		p.head = e
		p.tail = e
	} else {
		p.tail.next = e
		e.prev = p.tail
		p.tail = e
	}
	p.TotalRemaining += e.order.Remaining
	p.OrderCount++
}

// remove unlinks e from anywhere in the queue.
func (p *PriceLevel) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		p.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		p.tail = e.prev
	}
	e.next = nil
	e.prev = nil
	e.level = nil

	p.TotalRemaining -= e.order.Remaining
	p.OrderCount--
}

func (p *PriceLevel) update(e *entry, lo order.LimitOrder) {
	p.TotalRemaining += lo.Remaining - e.order.Remaining
	e.order = lo
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Head returns the oldest order at this price.
func (p *PriceLevel) Head() (order.LimitOrder, bool) {
	if p.head == nil {
		return order.LimitOrder{}, false
	}
	return p.head.order, true
}

// Each visits orders oldest first until fn returns false.
func (p *PriceLevel) Each(fn func(order.LimitOrder) bool) {
	for e := p.head; e != nil; e = e.next {
		if !fn(e.order) {
			return
		}
	}
}
