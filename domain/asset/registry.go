package asset

import (
	"sort"

	"github.com/cockroachdb/errors"
)

// Registry is the set of tradable markets. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	markets map[Pair]Market
}

// NewRegistry builds markets for pairs from the per-asset decimals.
func NewRegistry(decimals map[Asset]uint8, pairs []Pair) (*Registry, error) {
	r := &Registry{markets: make(map[Pair]Market, len(pairs))}
	for _, p := range pairs {
		ad, ok := decimals[p.AmountAsset]
		if !ok {
			return nil, errors.Newf("pair %s: no decimals for %s", p, p.AmountAsset)
		}
		pd, ok := decimals[p.PriceAsset]
		if !ok {
			return nil, errors.Newf("pair %s: no decimals for %s", p, p.PriceAsset)
		}
		m := Market{Pair: p, AmountDecimals: ad, PriceDecimals: pd}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		r.markets[p] = m
	}
	return r, nil
}

func (r *Registry) Market(p Pair) (Market, error) {
	m, ok := r.markets[p]
	if !ok {
		return Market{}, errors.Wrapf(ErrUnknownPair, "%s", p)
	}
	return m, nil
}

// Markets returns all markets ordered by pair name.
func (r *Registry) Markets() []Market {
	out := make([]Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pair.String() < out[j].Pair.String()
	})
	return out
}
