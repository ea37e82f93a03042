// Package exit is the settlement outbox: every execution is recorded
// here in the same commit that logs it, and the broadcaster drains it
// to the settlement topic with at-least-once delivery.
package exit

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const recordHeader = 1 + 4 + 8

// [state:1][retries:4][lastAttempt:8][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, recordHeader, recordHeader+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	return append(buf, r.Payload...)
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < recordHeader {
		return Record{}, errors.Newf("outbox record %d: length %d", seq, len(b))
	}
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[recordHeader:]...),
	}, nil
}

// -------------------- Outbox --------------------

type Options struct {
	FS vfs.FS
}

type Outbox struct {
	db *pebble.DB
}

func Open(dir string, opts Options) (*Outbox, error) {
	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox %s", dir)
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// PutNew records a settlement for offset seq. Re-recording an existing
// offset, as replay does, keeps the stored state.
func (o *Outbox) PutNew(seq uint64, payload []byte) error {
	if _, err := o.Get(seq); err == nil {
		return nil
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	return o.db.Set(keyFor(seq), encodeRecord(Record{State: StateNew, Payload: payload}), pebble.Sync)
}

func (o *Outbox) MarkSent(seq uint64) error {
	return o.transition(seq, func(r *Record) { r.State = StateSent })
}

func (o *Outbox) MarkAcked(seq uint64) error {
	return o.transition(seq, func(r *Record) { r.State = StateAcked })
}

func (o *Outbox) MarkFailed(seq uint64) error {
	return o.transition(seq, func(r *Record) {
		r.State = StateFailed
		r.Retries++
	})
}

func (o *Outbox) transition(seq uint64, fn func(*Record)) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	fn(&rec)
	rec.LastAttempt = time.Now().UnixNano()
	return o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

// Get returns pebble.ErrNotFound for unknown offsets.
func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeRecord(seq, val)
}

// -------------------- Scan --------------------

// ScanPending visits every record not yet acknowledged, oldest first.
// SENT records are included: a crash between send and ack resends.
func (o *Outbox) ScanPending(fn func(Record) error) error {
	return o.scan(func(r Record) (bool, error) {
		if r.State == StateAcked {
			return true, nil
		}
		return true, fn(r)
	})
}

func (o *Outbox) ScanByState(state State, fn func(Record) error) error {
	return o.scan(func(r Record) (bool, error) {
		if r.State != state {
			return true, nil
		}
		return true, fn(r)
	})
}

// TruncateAckedUpTo deletes acknowledged records with offset <= seq.
func (o *Outbox) TruncateAckedUpTo(seq uint64) error {
	b := o.db.NewBatch()
	defer b.Close()
	err := o.scan(func(r Record) (bool, error) {
		if r.Seq > seq {
			return false, nil
		}
		if r.State == StateAcked {
			return true, b.Delete(keyFor(r.Seq), nil)
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (o *Outbox) scan(fn func(Record) (bool, error)) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		more, err := fn(rec)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

// -------------------- Helpers --------------------

const keyPrefix = "settle/"

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	s := string(b)
	if len(s) <= len(keyPrefix) {
		return 0, errors.Newf("outbox key %q", s)
	}
	return strconv.ParseUint(s[len(keyPrefix):], 10, 64)
}
