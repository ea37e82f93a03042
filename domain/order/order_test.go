package order

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexmatch/domain/asset"
)

var wavesUSD = asset.Market{
	Pair:           asset.Pair{AmountAsset: "WAVES", PriceAsset: "USD"},
	AmountDecimals: 8,
	PriceDecimals:  2,
}

const now = int64(1_700_000_000_000)

func newOrder(side Side, price, amount int64) Order {
	return New("alice", wavesUSD.Pair, side, price, amount, 0, "", now, now+60_000)
}

func TestValidate(t *testing.T) {
	o := newOrder(Buy, 230, 100_000_000)
	require.NoError(t, o.Validate(wavesUSD, now))

	cases := []struct {
		name   string
		mutate func(*Order)
		want   error
	}{
		{"zero price", func(o *Order) { o.Price = 0 }, ErrMalformed},
		{"negative amount", func(o *Order) { o.Amount = -1 }, ErrMalformed},
		{"empty sender", func(o *Order) { o.Sender = "" }, ErrMalformed},
		{"wrong pair", func(o *Order) { o.Pair = asset.Pair{AmountAsset: "BTC", PriceAsset: "USD"} }, ErrMalformed},
		{"fee without asset", func(o *Order) { o.Fee = 10 }, ErrMalformed},
		{"expired", func(o *Order) { o.Timestamp = now - 2000; o.Expiration = now - 1 }, ErrExpired},
		{"below min amount", func(o *Order) { o.Amount = 434782 }, ErrAmountTooSmall},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newOrder(Buy, 230, 100_000_000)
			tc.mutate(&o)
			o.ID = o.ComputeID()
			err := o.Validate(wavesUSD, now)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	t.Run("tampered id", func(t *testing.T) {
		o := newOrder(Buy, 230, 100_000_000)
		o.Amount++
		assert.True(t, errors.Is(o.Validate(wavesUSD, now), ErrMalformed))
	})

	t.Run("exactly min amount", func(t *testing.T) {
		o := newOrder(Sell, 230, 434783)
		assert.NoError(t, o.Validate(wavesUSD, now))
	})
}

func TestIDIsContentHash(t *testing.T) {
	a := newOrder(Buy, 230, 100_000_000)
	b := newOrder(Buy, 230, 100_000_000)
	c := newOrder(Buy, 231, 100_000_000)

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)

	parsed, err := ParseID(a.ID.String())
	require.NoError(t, err)
	assert.Equal(t, a.ID, parsed)
}

func TestReservation(t *testing.T) {
	buy := NewLimitOrder(New("alice", wavesUSD.Pair, Buy, 230, 200_434_783, 300_000, "WAVES", now, now+1))
	res, err := buy.Reservation(wavesUSD)
	require.NoError(t, err)
	assert.Equal(t, asset.Amounts{"USD": 461, "WAVES": 300_000}, res)

	sell := NewLimitOrder(newOrder(Sell, 230, 200_000_000))
	res, err = sell.Reservation(wavesUSD)
	require.NoError(t, err)
	assert.Equal(t, asset.Amounts{"WAVES": 200_000_000}, res)

	sell.Remaining = 434782
	res, err = sell.Reservation(wavesUSD)
	require.NoError(t, err)
	assert.Empty(t, res)
}

// Counter BUY 2.00434783 @ 2.3 against a SELL of 2.0: the counter keeps
// exactly the minimal tradable amount.
func TestExecutedLeavesMinAmount(t *testing.T) {
	counter := NewLimitOrder(New("bob", wavesUSD.Pair, Buy, 230, 200_434_783, 0, "", now, now+1))
	submitted := NewLimitOrder(New("alice", wavesUSD.Pair, Sell, 230, 200_000_000, 0, "", now, now+1))

	ev, err := Executed(wavesUSD, counter, submitted, now)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000_000), ev.ExecutedAmount)
	assert.Equal(t, int64(434_783), ev.CounterRemaining)
	assert.Equal(t, int64(0), ev.SubmittedRemaining)
	assert.Equal(t, int64(230), ev.ExecutedPrice)

	ca := ev.CounterAfter(wavesUSD)
	assert.Equal(t, StatusPartiallyFilled, ca.Status)
	res, err := ca.Reservation(wavesUSD)
	require.NoError(t, err)
	assert.Equal(t, asset.Amounts{"USD": 1}, res)

	assert.Equal(t, StatusFilled, ev.SubmittedAfter(wavesUSD).Status)
}

// Both sides end one unit short of the minimal amount and become dust.
func TestExecutedLeavesDustOnBothSides(t *testing.T) {
	counter := NewLimitOrder(New("bob", wavesUSD.Pair, Buy, 230, 200_434_782, 0, "", now, now+1))
	submitted := NewLimitOrder(New("alice", wavesUSD.Pair, Sell, 230, 200_434_782, 0, "", now, now+1))

	ev, err := Executed(wavesUSD, counter, submitted, now)
	require.NoError(t, err)
	assert.Equal(t, int64(200_000_000), ev.ExecutedAmount)
	assert.Equal(t, int64(434_782), ev.CounterRemaining)
	assert.Equal(t, int64(434_782), ev.SubmittedRemaining)

	for _, lo := range []LimitOrder{ev.CounterAfter(wavesUSD), ev.SubmittedAfter(wavesUSD)} {
		assert.Equal(t, StatusFilled, lo.Status)
		assert.Equal(t, int64(434_782), lo.Remaining)
		res, err := lo.Reservation(wavesUSD)
		require.NoError(t, err)
		assert.Empty(t, res)
	}
}

func TestExecutedFee(t *testing.T) {
	lo := NewLimitOrder(New("alice", wavesUSD.Pair, Sell, 230, 300, 7, "WAVES", now, now+1))
	fee, err := lo.ExecutedFee(100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fee)

	lo.RemainingFee = 1
	fee, err = lo.ExecutedFee(300)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fee)
}

func TestOwners(t *testing.T) {
	a := NewLimitOrder(newOrder(Buy, 230, 100_000_000))
	ev := OrderExecuted{Counter: a, Submitted: a}
	assert.Equal(t, []Address{"alice"}, ev.Owners())
}
