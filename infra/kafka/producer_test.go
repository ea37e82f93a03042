package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexmatch/domain/asset"
	"dexmatch/infra/codec"
)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

var wavesUSD = asset.Pair{AmountAsset: "WAVES", PriceAsset: "USD"}

func TestProducerPublishesInOrder(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, 16)
	p.Start(context.Background())

	for off := uint64(1); off <= 5; off++ {
		p.Publish(off, wavesUSD, codec.KindAdded, []byte{byte(off)})
	}
	require.Eventually(t, func() bool { return w.count() == 5 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Close())
	assert.True(t, w.closed)

	for i, m := range w.msgs {
		assert.Equal(t, "WAVES-USD", string(m.Key))
		assert.Equal(t, []byte{byte(i + 1)}, m.Value)
		assert.Equal(t, kafka.Header{Key: HeaderKind, Value: []byte("added")}, m.Headers[1])
	}
	assert.Equal(t, "5", string(w.msgs[4].Headers[0].Value))
}

func TestProducerDropsWhenFull(t *testing.T) {
	p := newProducer(&recordingWriter{}, 2)
	for off := uint64(1); off <= 5; off++ {
		p.Publish(off, wavesUSD, codec.KindExecuted, nil)
	}
	assert.Equal(t, uint64(3), p.Dropped())
}
