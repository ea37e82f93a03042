// Package store persists order history and status. It is written by the
// ledger's address processors and read by queries.
package store

import (
	"bytes"
	"sort"

	"github.com/cockroachdb/errors"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
)

var ErrNotFound = errors.New("order not found")

// DefaultMaxOrders bounds LoadRemainingOrders results.
const DefaultMaxOrders = 1000

// IDInfo is an order id with its history entry.
type IDInfo struct {
	ID   order.ID
	Info order.Info
}

// OrderStore is the contract between the matcher and order persistence.
// SaveOrderInfo and SaveOrder are idempotent.
type OrderStore interface {
	Contains(id order.ID) (bool, error)
	// Status is StatusNotFound for unknown ids.
	Status(id order.ID) (order.Status, error)
	SaveOrderInfo(id order.ID, owner order.Address, info order.Info) error
	UpdateOrderInfo(id order.ID, info order.Info) error
	SaveOrder(o order.Order) error
	Order(id order.ID) (order.Order, error)
	// LoadRemainingOrders returns active first, then the owner's stored
	// orders (optionally of one pair) newest first, up to the store's
	// order limit.
	LoadRemainingOrders(owner order.Address, pair *asset.Pair, active []IDInfo) ([]IDInfo, error)
	Close() error
}

func containsID(list []IDInfo, id order.ID) bool {
	for _, e := range list {
		if e.ID == id {
			return true
		}
	}
	return false
}

// newestFirst orders history by descending timestamp, then id.
func newestFirst(list []IDInfo) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Info.Timestamp != list[j].Info.Timestamp {
			return list[i].Info.Timestamp > list[j].Info.Timestamp
		}
		return bytes.Compare(list[i].ID[:], list[j].ID[:]) < 0
	})
}

func remainingLimit(maxOrders int, active []IDInfo) int {
	return max(maxOrders-len(active), 0)
}
