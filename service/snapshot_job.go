package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"dexmatch/ledger"
	"dexmatch/snapshot"
)

// Snapshot captures the matcher's state. The ledger is captured at a
// single offset behind the journal barrier. Each book is captured
// afterwards by its own processor, at that offset or later, without
// stopping intake.
func (m *Matcher) Snapshot(ctx context.Context) (*snapshot.State, error) {
	var (
		offset uint64
		req    *ledger.SnapshotRequest
	)
	err := m.journal.barrier(func(o uint64) error {
		offset = o
		req = m.ledger.RequestSnapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}

	addresses, err := req.Wait(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "ledger snapshot")
	}

	st := &snapshot.State{
		Version:   snapshot.Version,
		Offset:    offset,
		Created:   m.now(),
		Addresses: addresses,
	}
	for _, mk := range m.registry.Markets() {
		reply := make(chan snapshot.BookState, 1)
		bs, err := ask(ctx, m, m.pairs[mk.Pair], bookStateMsg{at: offset, reply: reply}, reply)
		if err != nil {
			return nil, errors.Wrapf(err, "book snapshot %s", mk.Pair)
		}
		st.Books = append(st.Books, bs)
	}
	return st, nil
}

// SaveSnapshot writes a snapshot, then drops the event log segments and
// acknowledged settlements it covers.
func (m *Matcher) SaveSnapshot(ctx context.Context) (*snapshot.State, error) {
	st, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	path, err := m.snaps.Write(st)
	if err != nil {
		return nil, err
	}
	m.metrics.Snapshot(st.Offset)

	from := st.ReplayFrom()
	if err := m.events.TruncateBefore(from); err != nil {
		m.log.WithError(err).Warn("event log truncation failed")
	}
	if err := m.outbox.TruncateAckedUpTo(st.Offset); err != nil {
		m.log.WithError(err).Warn("settlement outbox truncation failed")
	}

	m.log.WithFields(logrus.Fields{
		"path":        path,
		"offset":      st.Offset,
		"replay_from": from,
		"addresses":   len(st.Addresses),
	}).Info("snapshot written")
	return st, nil
}

// StartSnapshotJob saves a snapshot every interval until ctx is done or
// the matcher is closed.
func (m *Matcher) StartSnapshotJob(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-t.C:
				if _, err := m.SaveSnapshot(ctx); err != nil {
					m.log.WithError(err).Error("snapshot failed")
				}
			}
		}
	}()
}
