// Package broadcaster drains the settlement outbox to Kafka. Delivery is
// at least once: a record is marked SENT before publishing and ACKED
// after the broker confirms, and anything not ACKED is retried.
package broadcaster

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"dexmatch/infra/metrics"
	exitwal "dexmatch/infra/wal/exit"
)

// Outbox is the part of *exit.Outbox the broadcaster drives.
type Outbox interface {
	ScanPending(fn func(exitwal.Record) error) error
	MarkSent(seq uint64) error
	MarkAcked(seq uint64) error
	MarkFailed(seq uint64) error
}

var errStopPass = errors.New("stop pass")

type Broadcaster struct {
	outbox   Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	metrics  *metrics.Metrics
	log      *logrus.Entry

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewProducer dials brokers with acknowledgement from all in-sync
// replicas.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "settlement producer")
	}
	return p, nil
}

func New(
	outbox Outbox,
	producer sarama.SyncProducer,
	topic string,
	interval time.Duration,
	m *metrics.Metrics,
) *Broadcaster {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Broadcaster{
		outbox:   outbox,
		producer: producer,
		topic:    topic,
		interval: interval,
		metrics:  m,
		log:      logrus.WithField("component", "broadcaster"),
		stop:     make(chan struct{}),
	}
}

func (b *Broadcaster) Start(ctx context.Context) {
	b.log.WithField("topic", b.topic).Info("started")

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stop:
				return
			case <-ticker.C:
				if _, err := b.publishPending(); err != nil {
					b.log.WithError(err).Warn("publish pass failed")
				}
			}
		}
	}()
}

// publishPending sends pending settlements in offset order. A failed
// send ends the pass so later settlements never overtake it.
func (b *Broadcaster) publishPending() (int, error) {
	sent := 0
	err := b.outbox.ScanPending(func(rec exitwal.Record) error {
		if err := b.outbox.MarkSent(rec.Seq); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: b.topic,
			Value: sarama.ByteEncoder(rec.Payload),
			Headers: []sarama.RecordHeader{
				{Key: []byte("offset"), Value: []byte(strconv.FormatUint(rec.Seq, 10))},
			},
		}
		if _, _, err := b.producer.SendMessage(msg); err != nil {
			b.metrics.Settlement("failed")
			b.log.WithError(err).WithFields(logrus.Fields{
				"offset":  rec.Seq,
				"retries": rec.Retries + 1,
			}).Warn("settlement not delivered")
			if err := b.outbox.MarkFailed(rec.Seq); err != nil {
				return err
			}
			return errStopPass
		}

		if err := b.outbox.MarkAcked(rec.Seq); err != nil {
			return err
		}
		b.metrics.Settlement("acked")
		sent++
		return nil
	})
	if errors.Is(err, errStopPass) {
		err = nil
	}
	return sent, err
}

func (b *Broadcaster) Close() error {
	close(b.stop)
	b.wg.Wait()
	return b.producer.Close()
}
