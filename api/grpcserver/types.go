package grpcserver

// Amounts and prices travel as decimal strings in the units of their
// asset ("1.5" WAVES). Fees travel in minimal units.

type PlaceOrderRequest struct {
	Sender     string `json:"sender"`
	Pair       string `json:"pair"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Amount     string `json:"amount"`
	Fee        int64  `json:"fee,omitempty"`
	FeeAsset   string `json:"fee_asset,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	Expiration int64  `json:"expiration"`
}

type Execution struct {
	Counter string `json:"counter"`
	Amount  string `json:"amount"`
	Price   string `json:"price"`
}

type PlaceOrderResponse struct {
	ID         string      `json:"id"`
	Accepted   bool        `json:"accepted"`
	Reason     string      `json:"reason,omitempty"`
	Executions []Execution `json:"executions,omitempty"`
	Remaining  string      `json:"remaining,omitempty"`
	Status     string      `json:"status,omitempty"`
}

type CancelOrderRequest struct {
	Sender string `json:"sender"`
	Pair   string `json:"pair"`
	ID     string `json:"id"`
}

type CancelOrderResponse struct{}

type ReservedBalanceRequest struct {
	Address string `json:"address"`
}

type ReservedBalanceResponse struct {
	Reserved map[string]int64 `json:"reserved"`
}

type OrderStatusRequest struct {
	ID string `json:"id"`
}

type OrderStatusResponse struct {
	Status string `json:"status"`
}

type OrderHistoryRequest struct {
	Address string `json:"address"`
	Pair    string `json:"pair,omitempty"`
}

type OrderView struct {
	ID        string `json:"id"`
	Pair      string `json:"pair"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Filled    string `json:"filled"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status"`
}

type OrderHistoryResponse struct {
	Orders []OrderView `json:"orders"`
}

type OrderBookRequest struct {
	Pair string `json:"pair"`
}

type OrderBookResponse struct {
	Bids []OrderView `json:"bids"`
	Asks []OrderView `json:"asks"`
}
