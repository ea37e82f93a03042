// Package entry is the event log: an append-only sequence of framed,
// checksummed records split into numbered segment files. Every accepted
// lifecycle event is written here before anything else observes it.
package entry

import (
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"dexmatch/infra/memory"
)

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
	// SyncEveryWrite fsyncs after each Append.
	SyncEveryWrite bool
}

type WAL struct {
	mu sync.Mutex

	cfg        Config
	current    *segment
	lastRotate time.Time
	frames     *memory.Pool[memory.Buffer]
	log        *logrus.Entry
}

// Open prepares dir for appending. A short final frame in the newest
// segment is cut off and writing continues in a fresh segment. A
// checksum failure anywhere in that segment fails Open with ErrCorrupt.
func Open(cfg Config) (*WAL, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create event log dir %s", cfg.Dir)
	}
	log := logrus.WithField("component", "event-log")

	segs, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	next := 0
	if len(segs) > 0 {
		last := segs[len(segs)-1]
		if err := repairTail(last.path, log); err != nil {
			return nil, err
		}
		next = last.index + 1
	}

	seg, err := openSegment(cfg.Dir, next)
	if err != nil {
		return nil, errors.Wrap(err, "open segment")
	}
	return &WAL{
		cfg:        cfg,
		current:    seg,
		lastRotate: time.Now(),
		frames:     memory.NewBufferPool(512),
		log:        log,
	}, nil
}

func repairTail(path string, log *logrus.Entry) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	valid, err := validLength(path)
	if err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	if valid == st.Size() {
		return nil
	}
	log.WithFields(logrus.Fields{
		"segment": path,
		"size":    st.Size(),
		"valid":   valid,
	}).Warn("truncating torn tail")
	return os.Truncate(path, valid)
}

func (w *WAL) Dir() string { return w.cfg.Dir }

// Append writes one record. The record is durable on return when
// SyncEveryWrite is set, otherwise after the next Sync.
func (w *WAL) Append(r *Record) error {
	buf := w.frames.Get()
	buf.B = appendFrame(buf.B[:0], r)
	defer w.frames.Put(buf)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.current.append(buf.B); err != nil {
		return errors.Wrapf(err, "append seq %d", r.Seq)
	}
	if w.cfg.SyncEveryWrite {
		if err := w.current.sync(); err != nil {
			return errors.Wrapf(err, "sync seq %d", r.Seq)
		}
	}

	if w.current.offset >= w.cfg.SegmentSize ||
		(w.cfg.SegmentDuration > 0 && time.Since(w.lastRotate) >= w.cfg.SegmentDuration) {
		return w.rotate()
	}
	return nil
}

func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current.sync()
}

func (w *WAL) rotate() error {
	if err := w.current.sync(); err != nil {
		return err
	}
	_ = w.current.close()

	seg, err := openSegment(w.cfg.Dir, w.current.index+1)
	if err != nil {
		return errors.Wrap(err, "rotate")
	}
	w.current = seg
	w.lastRotate = time.Now()
	return nil
}

// TruncateBefore removes closed segments whose records are all at or
// below seq.
func (w *WAL) TruncateBefore(seq uint64) error {
	w.mu.Lock()
	active := w.current.index
	w.mu.Unlock()

	segs, err := listSegments(w.cfg.Dir)
	if err != nil {
		return err
	}
	for _, s := range segs {
		if s.index >= active {
			continue
		}
		maxSeq, err := maxSeqInSegment(s.path)
		if err != nil {
			return err
		}
		if maxSeq <= seq {
			if err := os.Remove(s.path); err != nil {
				return err
			}
			w.log.WithFields(logrus.Fields{"segment": s.path, "max_seq": maxSeq}).Debug("segment truncated")
		}
	}
	return nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.current.sync(); err != nil {
		return err
	}
	return w.current.close()
}
