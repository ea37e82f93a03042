package service

import (
	"encoding/json"

	"dexmatch/domain/order"
)

const settlementVersion = 1

// Settlement is the message handed to the settlement layer for every
// execution. Amounts are in minimal units.
type Settlement struct {
	V                 int    `json:"v"`
	Type              string `json:"type"`
	Offset            uint64 `json:"offset"`
	Pair              string `json:"pair"`
	Counter           string `json:"counter"`
	CounterSender     string `json:"counter_sender"`
	CounterSide       string `json:"counter_side"`
	Submitted         string `json:"submitted"`
	SubmittedSender   string `json:"submitted_sender"`
	Amount            int64  `json:"amount"`
	Price             int64  `json:"price"`
	CounterFee        int64  `json:"counter_fee"`
	CounterFeeAsset   string `json:"counter_fee_asset,omitempty"`
	SubmittedFee      int64  `json:"submitted_fee"`
	SubmittedFeeAsset string `json:"submitted_fee_asset,omitempty"`
	Timestamp         int64  `json:"ts"`
}

func settlementOf(offset uint64, e order.OrderExecuted) Settlement {
	return Settlement{
		V:                 settlementVersion,
		Type:              "execution",
		Offset:            offset,
		Pair:              e.Submitted.Pair.String(),
		Counter:           e.Counter.ID.String(),
		CounterSender:     string(e.Counter.Sender),
		CounterSide:       e.Counter.Side.String(),
		Submitted:         e.Submitted.ID.String(),
		SubmittedSender:   string(e.Submitted.Sender),
		Amount:            e.ExecutedAmount,
		Price:             e.ExecutedPrice,
		CounterFee:        e.CounterExecutedFee,
		CounterFeeAsset:   string(e.Counter.FeeAsset),
		SubmittedFee:      e.SubmittedExecutedFee,
		SubmittedFeeAsset: string(e.Submitted.FeeAsset),
		Timestamp:         e.Timestamp,
	}
}

func encodeSettlement(offset uint64, e order.OrderExecuted) ([]byte, error) {
	return json.Marshal(settlementOf(offset, e))
}
