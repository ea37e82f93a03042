package ledger

import (
	"bytes"
	"sort"

	"dexmatch/domain/asset"
	"dexmatch/domain/order"
)

// AddressState is a processor's state in snapshot form. Every
// collection is a slice in a fixed order so encodings are deterministic.
type AddressState struct {
	Address  order.Address
	Offset   uint64
	Reserved []AssetAmount
	Open     []OpenOrder
	History  []HistoryEntry
}

type AssetAmount struct {
	Asset  asset.Asset
	Amount int64
}

type OpenOrder struct {
	Order    order.LimitOrder
	Reserved []AssetAmount
}

type HistoryEntry struct {
	ID   order.ID
	Info order.Info
}

func sortedAmounts(a asset.Amounts) []AssetAmount {
	var out []AssetAmount
	for k, v := range a {
		out = append(out, AssetAmount{Asset: k, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

func amountsOf(list []AssetAmount) asset.Amounts {
	out := make(asset.Amounts, len(list))
	for _, e := range list {
		out.Add(e.Asset, e.Amount)
	}
	return out
}

func lessID(a, b order.ID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
