package entry

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/cockroachdb/errors"
)

// Frame: [type:1][seq:8][time:8][len:4][payload][crc:4], big endian.
// The CRC covers header and payload.
const (
	headerSize = 1 + 8 + 8 + 4
	crcSize    = 4

	// maxPayload guards against allocating on a corrupt length field.
	maxPayload = 64 << 20
)

var ErrCorrupt = errors.New("event log corrupt")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func checksum(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

func appendFrame(buf []byte, r *Record) []byte {
	start := len(buf)
	buf = append(buf, byte(r.Type))
	buf = binary.BigEndian.AppendUint64(buf, r.Seq)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Time))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.Data)))
	buf = append(buf, r.Data...)
	return binary.BigEndian.AppendUint32(buf, checksum(buf[start:]))
}

// readFrame returns io.EOF at a clean end and io.ErrUnexpectedEOF on a
// short frame.
func readFrame(r io.Reader) (*Record, int64, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, err
	}

	l := binary.BigEndian.Uint32(header[17:21])
	if l > maxPayload {
		return nil, 0, errors.Wrapf(ErrCorrupt, "payload length %d", l)
	}

	body := make([]byte, int(l)+crcSize)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, 0, err
	}

	payload := body[:l]
	sum := binary.BigEndian.Uint32(body[l:])
	if checksum(append(header, payload...)) != sum {
		return nil, 0, errors.Wrapf(ErrCorrupt, "crc mismatch at seq %d", binary.BigEndian.Uint64(header[1:9]))
	}

	rec := &Record{
		Type: RecordType(header[0]),
		Seq:  binary.BigEndian.Uint64(header[1:9]),
		Time: int64(binary.BigEndian.Uint64(header[9:17])),
		Data: payload,
	}
	return rec, int64(headerSize + len(body)), nil
}
