package service

import (
	"sync"

	"dexmatch/domain/order"
)

// admission serializes submissions per sender across pairs. A sender is
// held from its balance check until its order is committed, so two pairs
// cannot both spend the same free balance. Only OrderAdded raises a
// reservation; executions and cancels from other pairs can only lower
// it while the sender is held.
type admission struct {
	mu    sync.Mutex
	locks map[order.Address]*senderLock
}

type senderLock struct {
	sync.Mutex
	refs int
}

func newAdmission() *admission {
	return &admission{locks: make(map[order.Address]*senderLock)}
}

// lock blocks until addr is free and returns its release.
func (a *admission) lock(addr order.Address) (unlock func()) {
	a.mu.Lock()
	l, ok := a.locks[addr]
	if !ok {
		l = &senderLock{}
		a.locks[addr] = l
	}
	l.refs++
	a.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		a.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(a.locks, addr)
		}
		a.mu.Unlock()
	}
}
