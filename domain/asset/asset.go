// Package asset holds the fixed-point amount model shared by the book,
// the ledger and the store: assets, pairs, markets and the integer
// arithmetic that prices amounts.
package asset

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidPair = errors.New("invalid asset pair")
	ErrUnknownPair = errors.New("unknown asset pair")
	ErrOverflow    = errors.New("amount overflow")
)

// Asset identifies a tradable asset on the underlying ledger.
type Asset string

// Pair is (amount asset, price asset). Amounts are denominated in the
// amount asset, prices in the price asset.
type Pair struct {
	AmountAsset Asset
	PriceAsset  Asset
}

func NewPair(amountAsset, priceAsset Asset) (Pair, error) {
	p := Pair{AmountAsset: amountAsset, PriceAsset: priceAsset}
	if err := p.Validate(); err != nil {
		return Pair{}, err
	}
	return p, nil
}

// ParsePair accepts "AMOUNT-PRICE" or "AMOUNT/PRICE".
func ParsePair(s string) (Pair, error) {
	sep := "-"
	if strings.Contains(s, "/") {
		sep = "/"
	}
	parts := strings.Split(strings.TrimSpace(s), sep)
	if len(parts) != 2 {
		return Pair{}, errors.Wrapf(ErrInvalidPair, "%q", s)
	}
	return NewPair(Asset(strings.TrimSpace(parts[0])), Asset(strings.TrimSpace(parts[1])))
}

func (p Pair) Validate() error {
	if p.AmountAsset == "" || p.PriceAsset == "" {
		return errors.Wrap(ErrInvalidPair, "empty asset")
	}
	if p.AmountAsset == p.PriceAsset {
		return errors.Wrapf(ErrInvalidPair, "%s: amount and price asset are equal", p)
	}
	return nil
}

func (p Pair) String() string {
	return string(p.AmountAsset) + "-" + string(p.PriceAsset)
}

// Amounts is a per-asset quantity set, e.g. a reservation.
type Amounts map[Asset]int64

// Add adds v to a[asset] and drops zero entries.
func (a Amounts) Add(asset Asset, v int64) {
	n := a[asset] + v
	if n == 0 {
		delete(a, asset)
		return
	}
	a[asset] = n
}

func (a Amounts) Clone() Amounts {
	out := make(Amounts, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
