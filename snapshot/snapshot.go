package snapshot

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/cockroachdb/errors"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
	"dexmatch/ledger"
)

const Version = 1

// State is a full matcher checkpoint. Books are ordered by pair and
// Addresses by address, so equal states encode to equal bytes.
type State struct {
	Version   int
	Offset    uint64
	Created   int64
	Books     []BookState
	Addresses []ledger.AddressState
}

// BookState is one pair's resting orders in priority order as of Offset.
type BookState struct {
	Pair   asset.Pair
	Offset uint64
	Orders []order.LimitOrder
}

// ReplayFrom is the offset after which the event log must be replayed:
// the lowest of the ledger offset and all book offsets.
func (s *State) ReplayFrom() uint64 {
	from := s.Offset
	for _, b := range s.Books {
		from = min(from, b.Offset)
	}
	return from
}

// BookOffset is the offset a pair's book was taken at. Pairs absent from
// the snapshot had no events and start from zero.
func (s *State) BookOffset(p asset.Pair) uint64 {
	for _, b := range s.Books {
		if b.Pair == p {
			return b.Offset
		}
	}
	return 0
}

func Encode(w io.Writer, s *State) error {
	if err := gob.NewEncoder(w).Encode(s); err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	return nil
}

func Decode(r io.Reader) (*State, error) {
	var s State
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	if s.Version != Version {
		return nil, errors.Newf("snapshot version %d, want %d", s.Version, Version)
	}
	return &s, nil
}

// Marshal is Encode into a byte slice.
func Marshal(s *State) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
