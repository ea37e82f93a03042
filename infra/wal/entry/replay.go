package entry

import (
	"bufio"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

var ErrGap = errors.New("event log gap")

type ReplayHandler func(*Record) error

// Replay feeds fn every record with Seq > after, in order, and returns
// the highest offset seen (at least after).
//
// Offsets must be contiguous. A gap, a checksum failure, or a short frame
// anywhere but at the end of the newest segment is an error; recovery
// cannot continue past it.
func Replay(dir string, after uint64, fn ReplayHandler) (uint64, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return after, err
	}

	last := after
	var prev uint64
	for i, s := range segs {
		newest := i == len(segs)-1
		err := replaySegment(s.path, func(rec *Record) error {
			if prev != 0 && rec.Seq != prev+1 {
				return errors.Wrapf(ErrGap, "seq %d follows %d in %s", rec.Seq, prev, s.path)
			}
			prev = rec.Seq
			if rec.Seq <= after {
				return nil
			}
			if rec.Seq != last+1 {
				return errors.Wrapf(ErrGap, "expected seq %d, found %d", last+1, rec.Seq)
			}
			last = rec.Seq
			return fn(rec)
		})
		if errors.Is(err, io.ErrUnexpectedEOF) && newest {
			break
		}
		if err != nil {
			return last, err
		}
	}
	return last, nil
}

func replaySegment(path string, fn func(*Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		rec, _, err := readFrame(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
