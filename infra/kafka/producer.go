// Package kafka publishes the lifecycle event feed read by monitoring
// collaborators. Publishing is best effort: the event log stays the
// source of truth, so a full queue drops messages instead of stalling
// the journal.
package kafka

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"dexmatch/domain/asset"
	"dexmatch/infra/codec"
)

const (
	HeaderOffset = "offset"
	HeaderKind   = "kind"
)

// Writer is the subset of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	w       Writer
	queue   chan kafka.Message
	batch   int
	dropped atomic.Uint64
	log     *logrus.Entry

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewProducer(brokers []string, topic string, buffer int) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, buffer)
}

func newProducer(w Writer, buffer int) *Producer {
	if buffer <= 0 {
		buffer = 4096
	}
	return &Producer{
		w:     w,
		queue: make(chan kafka.Message, buffer),
		batch: 100,
		log:   logrus.WithField("component", "event-feed"),
		stop:  make(chan struct{}),
	}
}

// Publish enqueues one encoded event keyed by its pair, so each pair's
// events stay ordered within a partition. It never blocks.
func (p *Producer) Publish(offset uint64, pair asset.Pair, kind codec.Kind, payload []byte) {
	msg := kafka.Message{
		Key:   []byte(pair.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: HeaderOffset, Value: []byte(strconv.FormatUint(offset, 10))},
			{Key: HeaderKind, Value: []byte(kind.String())},
		},
	}
	select {
	case p.queue <- msg:
	default:
		if n := p.dropped.Add(1); n == 1 || n%1000 == 0 {
			p.log.WithFields(logrus.Fields{"offset": offset, "dropped": n}).Warn("event feed queue full")
		}
	}
}

// Dropped counts events discarded because the queue was full.
func (p *Producer) Dropped() uint64 { return p.dropped.Load() }

// Start drains the queue until ctx is done or Close is called.
func (p *Producer) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case msg := <-p.queue:
				p.send(ctx, p.collect(msg))
			}
		}
	}()
}

// collect gathers whatever is already queued behind first, up to batch.
func (p *Producer) collect(first kafka.Message) []kafka.Message {
	msgs := []kafka.Message{first}
	for len(msgs) < p.batch {
		select {
		case m := <-p.queue:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
	return msgs
}

func (p *Producer) send(ctx context.Context, msgs []kafka.Message) {
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		p.log.WithError(err).WithField("messages", len(msgs)).Warn("publish failed")
	}
}

func (p *Producer) Close() error {
	close(p.stop)
	p.wg.Wait()
	return p.w.Close()
}
