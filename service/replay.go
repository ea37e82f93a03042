package service

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"dexmatch/domain/order"
	"dexmatch/infra/codec"
	"dexmatch/infra/wal/entry"
)

// recover rebuilds the books, the ledger and the settlement outbox. It
// runs before the pair processors start, so it touches books directly.
//
// A logged event reaches a pair's book only when its offset is above
// that book's snapshot offset, and reaches the ledger and the outbox
// only when it is above the snapshot's global offset.
func (m *Matcher) recover(ctx context.Context) error {
	st, err := m.snaps.LoadLatest()
	if err != nil {
		return err
	}

	var ledgerOffset, after, last uint64
	if st != nil {
		for _, bs := range st.Books {
			p, err := m.pair(bs.Pair)
			if err != nil {
				return errors.Wrap(err, "snapshot book")
			}
			if err := p.restore(bs); err != nil {
				return err
			}
			last = max(last, bs.Offset)
		}
		if err := m.ledger.Restore(st.Offset, st.Addresses); err != nil {
			return err
		}
		ledgerOffset = st.Offset
		after = st.ReplayFrom()
		last = max(last, st.Offset)
	}

	replayed := 0
	end, err := entry.Replay(m.events.Dir(), after, func(rec *entry.Record) error {
		ev, err := codec.DecodeEvent(codec.Kind(rec.Type), rec.Data)
		if err != nil {
			return errors.Wrapf(err, "decode offset %d", rec.Seq)
		}
		p, err := m.pair(ev.EventPair())
		if err != nil {
			return errors.Wrapf(err, "offset %d", rec.Seq)
		}
		if err := p.replay(rec.Seq, ev); err != nil {
			return err
		}
		if rec.Seq > ledgerOffset {
			m.ledger.Apply(rec.Seq, ev)
			if e, ok := ev.(order.OrderExecuted); ok {
				payload, err := encodeSettlement(rec.Seq, e)
				if err != nil {
					return err
				}
				if err := m.outbox.PutNew(rec.Seq, payload); err != nil {
					return err
				}
			}
		}
		replayed++
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "replay event log")
	}

	m.journal.seq.Reset(max(last, end))
	if err := m.ledger.Sync(ctx); err != nil {
		return err
	}

	fields := logrus.Fields{"offset": m.journal.seq.Current(), "replayed": replayed}
	if st != nil {
		fields["snapshot"] = st.Offset
	}
	m.log.WithFields(fields).Info("recovery complete")
	return nil
}
