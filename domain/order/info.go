package order

import "dexmatch/domain/asset"

// Info is the history entry kept for every order an address placed.
type Info struct {
	Pair      asset.Pair
	Side      Side
	Price     int64
	Amount    int64
	Filled    int64
	Timestamp int64
	Status    Status
}

func InfoOf(lo LimitOrder) Info {
	return Info{
		Pair:      lo.Pair,
		Side:      lo.Side,
		Price:     lo.Price,
		Amount:    lo.Amount,
		Filled:    lo.Filled(),
		Timestamp: lo.Timestamp,
		Status:    lo.Status,
	}
}

// Cancelled is the info view of lo after cancellation.
func Cancelled(lo LimitOrder) Info {
	info := InfoOf(lo)
	info.Status = StatusCancelled
	return info
}
