package store

import (
	"sync"

	"github.com/cockroachdb/errors"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
)

type ownedInfo struct {
	owner order.Address
	info  order.Info
}

// Memory is an in-process OrderStore.
type Memory struct {
	mu        sync.RWMutex
	maxOrders int

	infos   map[order.ID]ownedInfo
	orders  map[order.ID]order.Order
	byOwner map[order.Address][]order.ID
}

func NewMemory(maxOrders int) *Memory {
	if maxOrders <= 0 {
		maxOrders = DefaultMaxOrders
	}
	return &Memory{
		maxOrders: maxOrders,
		infos:     make(map[order.ID]ownedInfo),
		orders:    make(map[order.ID]order.Order),
		byOwner:   make(map[order.Address][]order.ID),
	}
}

func (m *Memory) Contains(id order.ID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.infos[id]
	return ok, nil
}

func (m *Memory) Status(id order.ID) (order.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	oi, ok := m.infos[id]
	if !ok {
		return order.StatusNotFound, nil
	}
	return oi.info.Status, nil
}

func (m *Memory) SaveOrderInfo(id order.ID, owner order.Address, info order.Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.infos[id]; ok {
		return nil
	}
	m.infos[id] = ownedInfo{owner: owner, info: info}
	m.byOwner[owner] = append(m.byOwner[owner], id)
	return nil
}

func (m *Memory) UpdateOrderInfo(id order.ID, info order.Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	oi, ok := m.infos[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "update %s", id)
	}
	oi.info = info
	m.infos[id] = oi
	return nil
}

func (m *Memory) SaveOrder(o order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		m.orders[o.ID] = o
	}
	return nil
}

func (m *Memory) Order(id order.ID) (order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return order.Order{}, errors.Wrapf(ErrNotFound, "order %s", id)
	}
	return o, nil
}

func (m *Memory) LoadRemainingOrders(owner order.Address, pair *asset.Pair, active []IDInfo) ([]IDInfo, error) {
	m.mu.RLock()
	var history []IDInfo
	for _, id := range m.byOwner[owner] {
		oi := m.infos[id]
		if pair != nil && oi.info.Pair != *pair {
			continue
		}
		if containsID(active, id) {
			continue
		}
		history = append(history, IDInfo{ID: id, Info: oi.info})
	}
	m.mu.RUnlock()

	newestFirst(history)
	if limit := remainingLimit(m.maxOrders, active); len(history) > limit {
		history = history[:limit]
	}

	out := make([]IDInfo, 0, len(active)+len(history))
	out = append(out, active...)
	return append(out, history...), nil
}

func (m *Memory) Close() error { return nil }

var _ OrderStore = (*Memory)(nil)
