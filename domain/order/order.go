// Package order defines orders, their resting form and the lifecycle
// events the matcher emits for them.
package order

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/blake2b"

	"dexmatch/domain/asset"
)

var (
	ErrMalformed      = errors.New("malformed order")
	ErrExpired        = errors.New("order expired")
	ErrAmountTooSmall = errors.New("order amount too small")
)

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func ParseSide(s string) (Side, error) {
	switch s {
	case "BUY", "buy":
		return Buy, nil
	case "SELL", "sell":
		return Sell, nil
	}
	return 0, errors.Wrapf(ErrMalformed, "side %q", s)
}

// Address is an account on the underlying ledger.
type Address string

// ID is the content hash of an order.
type ID [32]byte

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, errors.Newf("invalid order id %q", s)
	}
	copy(id[:], b)
	return id, nil
}

// Order is an immutable trade intent. Timestamps are unix milliseconds.
type Order struct {
	ID         ID
	Sender     Address
	Pair       asset.Pair
	Side       Side
	Price      int64
	Amount     int64
	Fee        int64
	FeeAsset   asset.Asset
	Timestamp  int64
	Expiration int64
}

// New builds an order and stamps its content id.
func New(
	sender Address,
	pair asset.Pair,
	side Side,
	price, amount int64,
	fee int64,
	feeAsset asset.Asset,
	timestamp, expiration int64,
) Order {
	o := Order{
		Sender:     sender,
		Pair:       pair,
		Side:       side,
		Price:      price,
		Amount:     amount,
		Fee:        fee,
		FeeAsset:   feeAsset,
		Timestamp:  timestamp,
		Expiration: expiration,
	}
	o.ID = o.ComputeID()
	return o
}

// ComputeID hashes every field except the id itself.
func (o Order) ComputeID() ID {
	buf := make([]byte, 0, 128)
	buf = appendString(buf, string(o.Sender))
	buf = appendString(buf, string(o.Pair.AmountAsset))
	buf = appendString(buf, string(o.Pair.PriceAsset))
	buf = append(buf, byte(o.Side))
	buf = binary.BigEndian.AppendUint64(buf, uint64(o.Price))
	buf = binary.BigEndian.AppendUint64(buf, uint64(o.Amount))
	buf = binary.BigEndian.AppendUint64(buf, uint64(o.Fee))
	buf = appendString(buf, string(o.FeeAsset))
	buf = binary.BigEndian.AppendUint64(buf, uint64(o.Timestamp))
	buf = binary.BigEndian.AppendUint64(buf, uint64(o.Expiration))
	return blake2b.Sum256(buf)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// SpendAsset is the asset the sender gives up when the order fills.
func (o Order) SpendAsset() asset.Asset {
	if o.Side == Buy {
		return o.Pair.PriceAsset
	}
	return o.Pair.AmountAsset
}

// ReceiveAsset is the asset the sender gets when the order fills.
func (o Order) ReceiveAsset() asset.Asset {
	if o.Side == Buy {
		return o.Pair.AmountAsset
	}
	return o.Pair.PriceAsset
}

// Expired reports whether the order can no longer trade at now (ms).
func (o Order) Expired(now int64) bool {
	return o.Expiration < now
}

// Validate checks the order against its market at time now (ms).
func (o Order) Validate(m asset.Market, now int64) error {
	switch {
	case o.Pair != m.Pair:
		return errors.Wrapf(ErrMalformed, "pair %s does not match market %s", o.Pair, m.Pair)
	case o.Sender == "":
		return errors.Wrap(ErrMalformed, "empty sender")
	case o.Side != Buy && o.Side != Sell:
		return errors.Wrapf(ErrMalformed, "side %d", o.Side)
	case o.Price <= 0:
		return errors.Wrapf(ErrMalformed, "price %d", o.Price)
	case o.Amount <= 0:
		return errors.Wrapf(ErrMalformed, "amount %d", o.Amount)
	case o.Fee < 0:
		return errors.Wrapf(ErrMalformed, "fee %d", o.Fee)
	case o.Fee > 0 && o.FeeAsset == "":
		return errors.Wrap(ErrMalformed, "fee without fee asset")
	case o.Expiration < o.Timestamp:
		return errors.Wrap(ErrMalformed, "expiration before timestamp")
	case o.ID != o.ComputeID():
		return errors.Wrapf(ErrMalformed, "id %s does not match content", o.ID)
	}
	if _, err := m.Cost(o.Amount, o.Price); err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	if o.Expired(now) {
		return errors.Wrapf(ErrExpired, "expired at %d, now %d", o.Expiration, now)
	}
	if least := m.MinAmountFor(o.Price); o.Amount < least {
		return errors.Wrapf(ErrAmountTooSmall, "amount %d below %d at price %d", o.Amount, least, o.Price)
	}
	return nil
}
