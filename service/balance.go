package service

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
)

// BalanceSource reports an address's total balance of an asset in
// minimal units. Settled balances live outside the matcher.
type BalanceSource interface {
	Balance(ctx context.Context, addr order.Address, a asset.Asset) (int64, error)
}

// StaticBalances is an in-memory BalanceSource.
type StaticBalances struct {
	mu sync.RWMutex
	m  map[order.Address]asset.Amounts
}

func NewStaticBalances() *StaticBalances {
	return &StaticBalances{m: make(map[order.Address]asset.Amounts)}
}

// LoadBalances reads a JSON file of the form
// {"address": {"WAVES": 100000000, "USD": 2500}}.
func LoadBalances(path string) (*StaticBalances, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read balances %s", path)
	}
	var raw map[order.Address]map[asset.Asset]int64
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrapf(err, "parse balances %s", path)
	}
	s := NewStaticBalances()
	for addr, amounts := range raw {
		for a, v := range amounts {
			if v < 0 {
				return nil, errors.Newf("balances %s: negative %s of %s", path, a, addr)
			}
			s.Set(addr, a, v)
		}
	}
	return s, nil
}

func (s *StaticBalances) Set(addr order.Address, a asset.Asset, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	amounts, ok := s.m[addr]
	if !ok {
		amounts = asset.Amounts{}
		s.m[addr] = amounts
	}
	delete(amounts, a)
	amounts.Add(a, v)
}

func (s *StaticBalances) Balance(_ context.Context, addr order.Address, a asset.Asset) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[addr][a], nil
}
