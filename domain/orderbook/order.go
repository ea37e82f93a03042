package orderbook

import "dexmatch/domain/order"

// entry is a resting order linked into its price level.
type entry struct {
	order order.LimitOrder
	level *PriceLevel

	next *entry
	prev *entry
}
