package asset

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// Market is a pair together with the decimal precision of its assets.
//
// Amounts are integers scaled by 10^AmountDecimals. A price is the
// number of price-asset units (scaled by 10^PriceDecimals) paid for one
// whole amount-asset unit.
type Market struct {
	Pair           Pair
	AmountDecimals uint8
	PriceDecimals  uint8
}

func (m Market) Validate() error {
	if err := m.Pair.Validate(); err != nil {
		return err
	}
	if int(m.AmountDecimals) > MaxDecimals || int(m.PriceDecimals) > MaxDecimals {
		return errors.Newf("market %s: decimals out of range", m.Pair)
	}
	return nil
}

func (m Market) scale() int64 {
	return pow10[m.AmountDecimals]
}

// Cost is the price-asset value of amount at price, rounded down.
func (m Market) Cost(amount, price int64) (int64, error) {
	v, err := mulDiv(amount, price, m.scale(), false)
	if err != nil {
		return 0, errors.Wrapf(err, "cost of %d at %d", amount, price)
	}
	return v, nil
}

// MinAmountFor is the smallest amount whose cost at price is at least
// one unit of the price asset. Any remainder below it is dust.
func (m Market) MinAmountFor(price int64) int64 {
	if price <= 0 {
		return math.MaxInt64
	}
	return ceilDiv(m.scale(), price)
}

// IsDust reports whether a remaining amount can no longer be settled at
// price.
func (m Market) IsDust(remaining, price int64) bool {
	return remaining < m.MinAmountFor(price)
}

// CorrectAmount is the largest amount not above amount that trades at
// price without losing a fraction of a price-asset unit.
func (m Market) CorrectAmount(amount, price int64) (int64, error) {
	settled, err := m.Cost(amount, price)
	if err != nil {
		return 0, err
	}
	v, err := mulDiv(settled, m.scale(), price, true)
	if err != nil {
		return 0, errors.Wrapf(err, "correct %d at %d", amount, price)
	}
	return min(v, amount), nil
}

// ParseAmount converts a decimal string such as "2.00434783" into the
// scaled integer amount.
func (m Market) ParseAmount(s string) (int64, error) {
	return parseScaled(s, m.AmountDecimals)
}

// ParsePrice converts a decimal string such as "2.3" into the scaled
// integer price.
func (m Market) ParsePrice(s string) (int64, error) {
	return parseScaled(s, m.PriceDecimals)
}

func (m Market) FormatAmount(v int64) string {
	return decimal.New(v, -int32(m.AmountDecimals)).StringFixed(int32(m.AmountDecimals))
}

func (m Market) FormatPrice(v int64) string {
	return decimal.New(v, -int32(m.PriceDecimals)).StringFixed(int32(m.PriceDecimals))
}

func parseScaled(s string, decimals uint8) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %q", s)
	}
	d = d.Shift(int32(decimals))
	if !d.IsInteger() {
		return 0, errors.Newf("%q has more than %d decimals", s, decimals)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, errors.Wrapf(ErrOverflow, "%q", s)
	}
	return d.IntPart(), nil
}
