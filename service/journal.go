package service

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
	"dexmatch/infra/codec"
	"dexmatch/infra/metrics"
	"dexmatch/infra/sequence"
	"dexmatch/infra/wal/entry"
	exitwal "dexmatch/infra/wal/exit"
	"dexmatch/ledger"
)

// EventFeed receives every committed event, encoded. Implementations
// must not block.
type EventFeed interface {
	Publish(offset uint64, pair asset.Pair, kind codec.Kind, payload []byte)
}

// journal is the single commit point. Holding mu, it assigns the next
// offset, appends the event to the log and hands it to the ledger, so
// offsets, log order and ledger order always agree.
type journal struct {
	mu      sync.Mutex
	seq     *sequence.Sequencer
	events  *entry.WAL
	ledger  *ledger.Ledger
	outbox  *exitwal.Outbox
	feed    EventFeed
	metrics *metrics.Metrics
	log     *logrus.Entry

	halted error
	// done is closed by the first halt.
	done chan struct{}
}

func (j *journal) commit(ev order.Event) (uint64, error) {
	kind, data, err := codec.EncodeEvent(ev)
	if err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.halted != nil {
		return 0, j.halted
	}

	offset := j.seq.Next()
	if err := j.events.Append(entry.NewRecord(entry.RecordType(kind), offset, ev.EventTime(), data)); err != nil {
		j.seq.Reset(offset - 1)
		return 0, j.haltLocked(errors.Wrapf(err, "append offset %d", offset))
	}

	j.ledger.Apply(offset, ev)

	if e, ok := ev.(order.OrderExecuted); ok {
		payload, err := encodeSettlement(offset, e)
		if err != nil {
			return 0, j.haltLocked(err)
		}
		if err := j.outbox.PutNew(offset, payload); err != nil {
			return 0, j.haltLocked(errors.Wrapf(err, "settlement at offset %d", offset))
		}
	}

	if j.feed != nil {
		j.feed.Publish(offset, ev.EventPair(), kind, data)
	}
	j.metrics.Committed(kind.String(), offset)
	return offset, nil
}

// barrier runs fn with the last committed offset while no commit can
// interleave.
func (j *journal) barrier(fn func(offset uint64) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.halted != nil {
		return j.halted
	}
	return fn(j.seq.Current())
}

func (j *journal) halt(err error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.haltLocked(err)
}

// haltLocked stops all further commits. The first cause wins.
func (j *journal) haltLocked(err error) error {
	if j.halted == nil {
		j.halted = errors.Mark(errors.Wrap(err, "matcher halted"), ErrHalted)
		close(j.done)
		j.log.WithError(err).Error("matcher halted")
	}
	return j.halted
}

func (j *journal) err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.halted
}
