package entry

import (
	"bufio"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// maxSeqInSegment returns the highest offset in a segment. Used for
// truncation after a snapshot.
func maxSeqInSegment(path string) (uint64, error) {
	var last uint64
	_, err := scanSegment(path, func(r *Record) { last = max(last, r.Seq) })
	return last, err
}

// validLength returns the byte length of the complete frames of a
// segment. Anything after them is a short final frame left by a torn
// write. A damaged complete frame is an error: records after it were
// committed and must not be cut off.
func validLength(path string) (int64, error) {
	return scanSegment(path, nil)
}

func scanSegment(path string, fn func(*Record)) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var n int64
	for {
		rec, size, err := readFrame(r)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return n, nil
		}
		if err != nil {
			return n, errors.Wrapf(err, "at byte %d", n)
		}
		n += size
		if fn != nil {
			fn(rec)
		}
	}
}
