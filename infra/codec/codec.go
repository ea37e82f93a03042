// Package codec is the binary encoding of orders, order infos and
// lifecycle events. It writes protobuf wire format by hand so the event
// log, the pebble store and the event feed share one stable layout
// without generated code.
package codec

import (
	"github.com/cockroachdb/errors"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
)

var ErrCorrupt = errors.New("corrupt record")

// Kind tags an encoded event.
type Kind uint8

const (
	KindAdded Kind = iota + 1
	KindExecuted
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindAdded:
		return "added"
	case KindExecuted:
		return "executed"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// -------------------- Events --------------------

func EncodeEvent(ev order.Event) (Kind, []byte, error) {
	var b []byte
	switch e := ev.(type) {
	case order.OrderAdded:
		b = appendMessage(b, 1, appendLimitOrder(nil, e.Order))
		b = appendInt(b, 2, e.Timestamp)
		return KindAdded, b, nil

	case order.OrderExecuted:
		b = appendMessage(b, 1, appendLimitOrder(nil, e.Counter))
		b = appendMessage(b, 2, appendLimitOrder(nil, e.Submitted))
		b = appendInt(b, 3, e.ExecutedAmount)
		b = appendInt(b, 4, e.CounterRemaining)
		b = appendInt(b, 5, e.SubmittedRemaining)
		b = appendInt(b, 6, e.ExecutedPrice)
		b = appendInt(b, 7, e.CounterExecutedFee)
		b = appendInt(b, 8, e.SubmittedExecutedFee)
		b = appendInt(b, 9, e.Timestamp)
		return KindExecuted, b, nil

	case order.OrderCancelled:
		b = appendMessage(b, 1, appendLimitOrder(nil, e.Order))
		b = appendInt(b, 2, int64(e.Reason))
		b = appendInt(b, 3, e.Timestamp)
		return KindCancelled, b, nil
	}
	return 0, nil, errors.Newf("codec: unsupported event %T", ev)
}

func DecodeEvent(k Kind, b []byte) (order.Event, error) {
	switch k {
	case KindAdded:
		var e order.OrderAdded
		err := walk(b, func(f field) (err error) {
			switch f.num {
			case 1:
				e.Order, err = decodeLimitOrder(f.b)
			case 2:
				e.Timestamp = int64(f.v)
			}
			return err
		})
		return e, err

	case KindExecuted:
		var e order.OrderExecuted
		err := walk(b, func(f field) (err error) {
			switch f.num {
			case 1:
				e.Counter, err = decodeLimitOrder(f.b)
			case 2:
				e.Submitted, err = decodeLimitOrder(f.b)
			case 3:
				e.ExecutedAmount = int64(f.v)
			case 4:
				e.CounterRemaining = int64(f.v)
			case 5:
				e.SubmittedRemaining = int64(f.v)
			case 6:
				e.ExecutedPrice = int64(f.v)
			case 7:
				e.CounterExecutedFee = int64(f.v)
			case 8:
				e.SubmittedExecutedFee = int64(f.v)
			case 9:
				e.Timestamp = int64(f.v)
			}
			return err
		})
		return e, err

	case KindCancelled:
		var e order.OrderCancelled
		err := walk(b, func(f field) (err error) {
			switch f.num {
			case 1:
				e.Order, err = decodeLimitOrder(f.b)
			case 2:
				e.Reason = order.CancelReason(f.v)
			case 3:
				e.Timestamp = int64(f.v)
			}
			return err
		})
		return e, err
	}
	return nil, errors.Wrapf(ErrCorrupt, "unknown event kind %d", k)
}

// -------------------- Orders --------------------

func EncodeOrder(o order.Order) []byte {
	return appendOrder(nil, o)
}

func DecodeOrder(b []byte) (order.Order, error) {
	var o order.Order
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			if len(f.b) != len(o.ID) {
				return errors.Wrapf(ErrCorrupt, "order id length %d", len(f.b))
			}
			copy(o.ID[:], f.b)
		case 2:
			o.Sender = order.Address(f.b)
		case 3:
			o.Pair.AmountAsset = asset.Asset(f.b)
		case 4:
			o.Pair.PriceAsset = asset.Asset(f.b)
		case 5:
			o.Side = order.Side(f.v)
		case 6:
			o.Price = int64(f.v)
		case 7:
			o.Amount = int64(f.v)
		case 8:
			o.Fee = int64(f.v)
		case 9:
			o.FeeAsset = asset.Asset(f.b)
		case 10:
			o.Timestamp = int64(f.v)
		case 11:
			o.Expiration = int64(f.v)
		}
		return nil
	})
	return o, err
}

func appendOrder(b []byte, o order.Order) []byte {
	b = appendBytes(b, 1, o.ID[:])
	b = appendString(b, 2, string(o.Sender))
	b = appendString(b, 3, string(o.Pair.AmountAsset))
	b = appendString(b, 4, string(o.Pair.PriceAsset))
	b = appendInt(b, 5, int64(o.Side))
	b = appendInt(b, 6, o.Price)
	b = appendInt(b, 7, o.Amount)
	b = appendInt(b, 8, o.Fee)
	b = appendString(b, 9, string(o.FeeAsset))
	b = appendInt(b, 10, o.Timestamp)
	b = appendInt(b, 11, o.Expiration)
	return b
}

func appendLimitOrder(b []byte, lo order.LimitOrder) []byte {
	b = appendMessage(b, 1, appendOrder(nil, lo.Order))
	b = appendInt(b, 2, lo.Remaining)
	b = appendInt(b, 3, lo.RemainingFee)
	b = appendInt(b, 4, int64(lo.Status))
	return b
}

func decodeLimitOrder(b []byte) (order.LimitOrder, error) {
	var lo order.LimitOrder
	err := walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			lo.Order, err = DecodeOrder(f.b)
		case 2:
			lo.Remaining = int64(f.v)
		case 3:
			lo.RemainingFee = int64(f.v)
		case 4:
			lo.Status = order.Status(f.v)
		}
		return err
	})
	return lo, err
}

// -------------------- Info --------------------

// EncodeInfo encodes an order's history entry together with its owner.
func EncodeInfo(owner order.Address, info order.Info) []byte {
	var b []byte
	b = appendString(b, 1, string(owner))
	b = appendString(b, 2, string(info.Pair.AmountAsset))
	b = appendString(b, 3, string(info.Pair.PriceAsset))
	b = appendInt(b, 4, int64(info.Side))
	b = appendInt(b, 5, info.Price)
	b = appendInt(b, 6, info.Amount)
	b = appendInt(b, 7, info.Filled)
	b = appendInt(b, 8, info.Timestamp)
	b = appendInt(b, 9, int64(info.Status))
	return b
}

func DecodeInfo(b []byte) (order.Address, order.Info, error) {
	var (
		owner order.Address
		info  order.Info
	)
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			owner = order.Address(f.b)
		case 2:
			info.Pair.AmountAsset = asset.Asset(f.b)
		case 3:
			info.Pair.PriceAsset = asset.Asset(f.b)
		case 4:
			info.Side = order.Side(f.v)
		case 5:
			info.Price = int64(f.v)
		case 6:
			info.Amount = int64(f.v)
		case 7:
			info.Filled = int64(f.v)
		case 8:
			info.Timestamp = int64(f.v)
		case 9:
			info.Status = order.Status(f.v)
		}
		return nil
	})
	return owner, info, err
}
