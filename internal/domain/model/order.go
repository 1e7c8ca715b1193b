package model

import (
	"encoding/json"
	"time"
)

// Side order direction
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderRequest a market order for the configured instrument.
type OrderRequest struct {
	Code         string // venue code
	ExchangeCode string
	Side         Side
	Quantity     int
	Tag          string // free-form remark forwarded to the venue
}

// OrderResult normalized broker response. AvgPrice 0 means the venue did not
// report a fill price.
type OrderResult struct {
	OrderID  string
	Filled   bool
	AvgPrice float64
	Raw      json.RawMessage
}

// FillPrice the reported fill price, or fallback when none was reported.
func (r *OrderResult) FillPrice(fallback float64) float64 {
	if r == nil || r.AvgPrice <= 0 {
		return fallback
	}
	return r.AvgPrice
}

// Exit and entry reasons, as logged and journaled.
const (
	ReasonNoPrice       = "no_price"
	ReasonTakeProfitAbs = "take_profit_abs"
	ReasonTakeProfit    = "take_profit"
	ReasonStopLoss      = "stop_loss"
	ReasonHold          = "hold"
	ReasonFlatten       = "flatten"

	ReasonReentry   = "below_last_sell"
	ReasonImmediate = "immediate_on_start"
	ReasonRule      = "rule"
)

// TradeRecord one executed order as written to the journal.
type TradeRecord struct {
	ID        string
	Symbol    string
	Side      Side
	Quantity  int
	Price     float64
	PnL       float64 // realized, sells only
	Reason    string
	OrderID   string
	Timestamp time.Time
}
