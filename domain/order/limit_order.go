package order

import (
	"dexmatch/domain/asset"
)

// Status of an order. It only moves forward:
// Accepted -> PartiallyFilled -> Filled | Cancelled.
type Status uint8

const (
	StatusNotFound Status = iota
	StatusAccepted
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusNotFound:
		return "NotFound"
	case StatusAccepted:
		return "Accepted"
	case StatusPartiallyFilled:
		return "PartiallyFilled"
	case StatusFilled:
		return "Filled"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Final reports whether no further transitions are possible.
func (s Status) Final() bool {
	return s == StatusFilled || s == StatusCancelled
}

// LimitOrder is the resting form of an order.
type LimitOrder struct {
	Order
	Remaining    int64
	RemainingFee int64
	Status       Status
}

func NewLimitOrder(o Order) LimitOrder {
	return LimitOrder{
		Order:        o,
		Remaining:    o.Amount,
		RemainingFee: o.Fee,
		Status:       StatusAccepted,
	}
}

func (lo LimitOrder) Filled() int64 {
	return lo.Amount - lo.Remaining
}

// Terminal reports whether the order can no longer trade: fully
// executed, cancelled, or left with a dust remainder.
func (lo LimitOrder) Terminal(m asset.Market) bool {
	return lo.Status.Final() || lo.Remaining == 0 || m.IsDust(lo.Remaining, lo.Price)
}

// Reservation is the balance the order locks while open: the spend value
// of the remaining amount at the order's own price plus the unpaid fee.
func (lo LimitOrder) Reservation(m asset.Market) (asset.Amounts, error) {
	res := asset.Amounts{}
	if lo.Terminal(m) {
		return res, nil
	}
	spend := lo.Remaining
	if lo.Side == Buy {
		v, err := m.Cost(lo.Remaining, lo.Price)
		if err != nil {
			return nil, err
		}
		spend = v
	}
	res.Add(lo.SpendAsset(), spend)
	if lo.RemainingFee > 0 {
		res.Add(lo.FeeAsset, lo.RemainingFee)
	}
	return res, nil
}

// ExecutedFee is the fee share owed for executing amount, bounded by
// what is still unpaid.
func (lo LimitOrder) ExecutedFee(executed int64) (int64, error) {
	if lo.Fee == 0 || lo.Amount == 0 {
		return 0, nil
	}
	v, err := asset.MulDiv(lo.Fee, executed, lo.Amount)
	if err != nil {
		return 0, err
	}
	return min(v, lo.RemainingFee), nil
}

// partial is the view of lo after an execution left it with remaining.
func (lo LimitOrder) partial(m asset.Market, remaining, executedFee int64) LimitOrder {
	out := lo
	out.Remaining = remaining
	out.RemainingFee = max(lo.RemainingFee-executedFee, 0)
	if remaining == 0 || m.IsDust(remaining, lo.Price) {
		out.Status = StatusFilled
	} else {
		out.Status = StatusPartiallyFilled
	}
	return out
}
