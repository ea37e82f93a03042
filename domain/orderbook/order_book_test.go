package orderbook

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
)

var wavesUSD = asset.Market{
	Pair:           asset.Pair{AmountAsset: "WAVES", PriceAsset: "USD"},
	AmountDecimals: 8,
	PriceDecimals:  2,
}

const now = int64(1_700_000_000_000)

func limit(sender order.Address, side order.Side, price, amount int64, ts int64) order.LimitOrder {
	return order.NewLimitOrder(order.New(sender, wavesUSD.Pair, side, price, amount, 0, "", ts, ts+3_600_000))
}

type recorder struct {
	events []order.Event
}

func (r *recorder) commit(ev order.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func executions(events []order.Event) []order.OrderExecuted {
	var out []order.OrderExecuted
	for _, ev := range events {
		if e, ok := ev.(order.OrderExecuted); ok {
			out = append(out, e)
		}
	}
	return out
}

func TestRestsWhenNotCrossing(t *testing.T) {
	b := New(wavesUSD)
	rec := &recorder{}

	require.NoError(t, b.Match(limit("bob", order.Sell, 240, 100_000_000, now), now, rec.commit))
	require.NoError(t, b.Match(limit("alice", order.Buy, 230, 100_000_000, now+1), now+1, rec.commit))

	assert.Len(t, rec.events, 2)
	assert.Empty(t, executions(rec.events))
	assert.Equal(t, 2, b.Len())

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, int64(230), bid.Price)
	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(240), ask.Price)
}

func TestPriceTimePriority(t *testing.T) {
	b := New(wavesUSD)
	rec := &recorder{}

	a1 := limit("s1", order.Sell, 240, 100_000_000, now)
	a2 := limit("s2", order.Sell, 230, 100_000_000, now+1)
	a3 := limit("s3", order.Sell, 230, 100_000_000, now+2)
	for _, lo := range []order.LimitOrder{a1, a2, a3} {
		require.NoError(t, b.Match(lo, lo.Timestamp, rec.commit))
	}
	rec.events = nil

	buy := limit("alice", order.Buy, 250, 150_000_000, now+3)
	require.NoError(t, b.Match(buy, now+3, rec.commit))

	execs := executions(rec.events)
	require.Len(t, execs, 2)
	assert.Equal(t, a2.ID, execs[0].Counter.ID)
	assert.Equal(t, int64(100_000_000), execs[0].ExecutedAmount)
	assert.Equal(t, int64(230), execs[0].ExecutedPrice)
	assert.Equal(t, a3.ID, execs[1].Counter.ID)
	assert.Equal(t, int64(50_000_000), execs[1].ExecutedAmount)

	_, ok := b.Get(buy.ID)
	assert.False(t, ok, "filled submitted order must not rest")
	rest, ok := b.Get(a3.ID)
	require.True(t, ok)
	assert.Equal(t, int64(50_000_000), rest.Remaining)
	assert.Equal(t, order.StatusPartiallyFilled, rest.Status)

	best, _ := b.BestAsk()
	assert.Equal(t, a3.ID, best.ID)
}

func TestCounterKeepsMinimalAmount(t *testing.T) {
	b := New(wavesUSD)
	rec := &recorder{}

	counter := limit("bob", order.Buy, 230, 200_434_783, now)
	require.NoError(t, b.Match(counter, now, rec.commit))
	submitted := limit("alice", order.Sell, 230, 200_000_000, now+1)
	require.NoError(t, b.Match(submitted, now+1, rec.commit))

	execs := executions(rec.events)
	require.Len(t, execs, 1)
	assert.Equal(t, int64(434_783), execs[0].CounterRemaining)

	rest, ok := b.Get(counter.ID)
	require.True(t, ok)
	assert.Equal(t, int64(434_783), rest.Remaining)
	_, ok = b.Get(submitted.ID)
	assert.False(t, ok)
}

func TestDustRemaindersLeaveBook(t *testing.T) {
	b := New(wavesUSD)
	rec := &recorder{}

	require.NoError(t, b.Match(limit("bob", order.Buy, 230, 200_434_782, now), now, rec.commit))
	require.NoError(t, b.Match(limit("alice", order.Sell, 230, 200_434_782, now+1), now+1, rec.commit))

	execs := executions(rec.events)
	require.Len(t, execs, 1)
	assert.Equal(t, int64(434_782), execs[0].CounterRemaining)
	assert.Equal(t, int64(434_782), execs[0].SubmittedRemaining)
	assert.Equal(t, 0, b.Len())
}

func TestExpiredCounterIsCancelled(t *testing.T) {
	b := New(wavesUSD)
	rec := &recorder{}

	stale := order.NewLimitOrder(order.New("bob", wavesUSD.Pair, order.Sell, 220, 100_000_000, 0, "", now, now+10))
	fresh := limit("carol", order.Sell, 230, 100_000_000, now)
	require.NoError(t, b.Match(stale, now, rec.commit))
	require.NoError(t, b.Match(fresh, now, rec.commit))
	rec.events = nil

	later := now + 1000
	require.NoError(t, b.Match(limit("alice", order.Buy, 230, 100_000_000, later), later, rec.commit))

	require.Len(t, rec.events, 3)
	cancel, ok := rec.events[1].(order.OrderCancelled)
	require.True(t, ok)
	assert.Equal(t, stale.ID, cancel.Order.ID)
	assert.Equal(t, order.CancelExpired, cancel.Reason)

	exec, ok := rec.events[2].(order.OrderExecuted)
	require.True(t, ok)
	assert.Equal(t, fresh.ID, exec.Counter.ID)
	assert.Equal(t, 0, b.Len())
}

func TestCommitFailureLeavesBookUntouched(t *testing.T) {
	b := New(wavesUSD)
	rec := &recorder{}
	counter := limit("bob", order.Sell, 230, 100_000_000, now)
	require.NoError(t, b.Match(counter, now, rec.commit))

	boom := errors.New("disk full")
	calls := 0
	err := b.Match(limit("alice", order.Buy, 230, 100_000_000, now), now, func(order.Event) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)

	rest, ok := b.Get(counter.ID)
	require.True(t, ok)
	assert.Equal(t, int64(100_000_000), rest.Remaining)
}

func TestApplyRejectsUnknownOrders(t *testing.T) {
	b := New(wavesUSD)
	lo := limit("bob", order.Sell, 230, 100_000_000, now)

	err := b.Apply(order.OrderCancelled{Order: lo, Timestamp: now})
	assert.True(t, errors.Is(err, ErrInconsistent))

	require.NoError(t, b.Apply(order.OrderAdded{Order: lo, Timestamp: now}))
	err = b.Apply(order.OrderAdded{Order: lo, Timestamp: now})
	assert.True(t, errors.Is(err, ErrInconsistent))

	other := asset.Pair{AmountAsset: "BTC", PriceAsset: "USD"}
	foreign := lo
	foreign.Pair = other
	assert.True(t, errors.Is(b.Apply(order.OrderAdded{Order: foreign}), ErrInconsistent))
}

func TestReplayReproducesBook(t *testing.T) {
	live := New(wavesUSD)
	rec := &recorder{}

	orders := []order.LimitOrder{
		limit("s1", order.Sell, 235, 120_000_000, now),
		limit("s2", order.Sell, 231, 80_000_000, now+1),
		limit("b1", order.Buy, 229, 50_000_000, now+2),
		limit("b2", order.Buy, 233, 150_000_000, now+3),
		limit("s3", order.Sell, 228, 300_000_000, now+4),
	}
	for _, lo := range orders {
		require.NoError(t, live.Match(lo, lo.Timestamp, rec.commit))
	}

	replayed := New(wavesUSD)
	for _, ev := range rec.events {
		require.NoError(t, replayed.Apply(ev))
	}
	assert.Equal(t, live.Orders(), replayed.Orders())

	restored, err := Restore(wavesUSD, live.Orders())
	require.NoError(t, err)
	assert.Equal(t, live.Orders(), restored.Orders())
}

func TestMatchingProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := New(wavesUSD)
		rec := &recorder{}
		executed := map[order.ID]int64{}
		n := rapid.IntRange(1, 60).Draw(t, "orders")

		for i := 0; i < n; i++ {
			side := order.Side(rapid.IntRange(0, 1).Draw(t, "side"))
			price := rapid.Int64Range(200, 260).Draw(t, "price")
			amount := rapid.Int64Range(wavesUSD.MinAmountFor(price), 1_000_000_000).Draw(t, "amount")
			lo := limit(order.Address(string(rune('a'+i%5))), side, price, amount, now+int64(i))

			rec.events = nil
			if err := b.Match(lo, lo.Timestamp, rec.commit); err != nil {
				t.Fatalf("match: %v", err)
			}

			for _, e := range executions(rec.events) {
				if e.ExecutedAmount > min(e.Counter.Remaining, e.Submitted.Remaining) {
					t.Fatalf("executed %d exceeds remainders", e.ExecutedAmount)
				}
				if e.ExecutedPrice != e.Counter.Price {
					t.Fatalf("execution at %d, counter price %d", e.ExecutedPrice, e.Counter.Price)
				}
				executed[e.Counter.ID] += e.ExecutedAmount
				executed[e.Submitted.ID] += e.ExecutedAmount
			}

			bid, okb := b.BestBid()
			ask, oka := b.BestAsk()
			if okb && oka && bid.Price >= ask.Price {
				t.Fatalf("book crossed: bid %d ask %d", bid.Price, ask.Price)
			}
		}

		for _, lo := range b.Orders() {
			if lo.Remaining != lo.Amount-executed[lo.ID] {
				t.Fatalf("order %s remaining %d, amount %d executed %d",
					lo.ID, lo.Remaining, lo.Amount, executed[lo.ID])
			}
			if wavesUSD.IsDust(lo.Remaining, lo.Price) {
				t.Fatalf("dust order %s resting", lo.ID)
			}
		}
	})
}
