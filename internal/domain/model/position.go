package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position the single open holding. Quantity and AvgPrice are always > 0.
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity int     `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
}

// TradesToday daily trade counter keyed by calendar date (YYYY-MM-DD).
type TradesToday struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// TradingState the durable record shared by the loop and read-only observers.
type TradingState struct {
	Position         *Position       `json:"position"`
	TotalRealizedPnL decimal.Decimal `json:"total_pnl"`
	LastSellPrice    *float64        `json:"last_sell_price"`
	TradesToday      TradesToday     `json:"trades_today"`
}

const dateLayout = "2006-01-02"

// DateKey calendar date of t in its own location.
func DateKey(t time.Time) string {
	return t.Format(dateLayout)
}

// DefaultState a flat record dated now.
func DefaultState(now time.Time) TradingState {
	return TradingState{
		TotalRealizedPnL: decimal.Zero,
		TradesToday:      TradesToday{Date: DateKey(now)},
	}
}

// RollTradesToday resets the counter when the stored date differs from now.
// Reports whether a reset happened.
func (s *TradingState) RollTradesToday(now time.Time) bool {
	today := DateKey(now)
	if s.TradesToday.Date == today {
		return false
	}
	s.TradesToday = TradesToday{Date: today}
	return true
}

// Holding reports whether a position is open.
func (s *TradingState) Holding() bool {
	return s.Position != nil
}

// TradePnL signed realized P&L of closing qty units bought at entry and sold at exit.
func TradePnL(entry, exit float64, qty int) decimal.Decimal {
	return decimal.NewFromFloat(exit).
		Sub(decimal.NewFromFloat(entry)).
		Mul(decimal.NewFromInt(int64(qty)))
}
