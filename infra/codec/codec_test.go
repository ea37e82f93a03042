package codec

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
)

var pair = asset.Pair{AmountAsset: "WAVES", PriceAsset: "USD"}

func sample(sender order.Address, side order.Side) order.LimitOrder {
	lo := order.NewLimitOrder(order.New(sender, pair, side, 230, 200_434_783, 300_000, "WAVES", 1_700_000_000_000, 1_700_086_400_000))
	lo.Remaining = 434_783
	lo.Status = order.StatusPartiallyFilled
	return lo
}

func TestEventRoundTrip(t *testing.T) {
	events := []order.Event{
		order.OrderAdded{Order: sample("alice", order.Buy), Timestamp: 42},
		order.OrderExecuted{
			Counter:              sample("bob", order.Buy),
			Submitted:            sample("alice", order.Sell),
			ExecutedAmount:       200_000_000,
			CounterRemaining:     434_783,
			ExecutedPrice:        230,
			CounterExecutedFee:   299_349,
			SubmittedExecutedFee: 1,
			Timestamp:            43,
		},
		order.OrderCancelled{Order: sample("alice", order.Sell), Reason: order.CancelExpired, Timestamp: 44},
	}
	for _, ev := range events {
		kind, b, err := EncodeEvent(ev)
		require.NoError(t, err)

		got, err := DecodeEvent(kind, b)
		require.NoError(t, err)
		assert.Equal(t, ev, got, "kind %s", kind)
	}
}

func TestDecodedOrderKeepsID(t *testing.T) {
	o := sample("alice", order.Buy).Order
	got, err := DecodeOrder(EncodeOrder(o))
	require.NoError(t, err)
	assert.Equal(t, o.ComputeID(), got.ComputeID())
	assert.Equal(t, o.ID, got.ID)
}

func TestInfoRoundTrip(t *testing.T) {
	info := order.InfoOf(sample("alice", order.Sell))
	owner, got, err := DecodeInfo(EncodeInfo("alice", info))
	require.NoError(t, err)
	assert.Equal(t, order.Address("alice"), owner)
	assert.Equal(t, info, got)
}

func TestCorruptInput(t *testing.T) {
	_, b, err := EncodeEvent(order.OrderAdded{Order: sample("alice", order.Buy), Timestamp: 1})
	require.NoError(t, err)

	_, err = DecodeEvent(KindAdded, b[:len(b)/2])
	assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)

	_, err = DecodeEvent(Kind(99), b)
	assert.True(t, errors.Is(err, ErrCorrupt))
}
