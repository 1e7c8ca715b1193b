package port

import (
	"context"

	"github.com/shopspring/decimal"

	"ltpbot/internal/domain/model"
)

// StateStore durable trading state. Each call is one serialized
// read-modify-write; calls fail with domain.ErrLockTimeout when the lock is
// not acquired in time.
type StateStore interface {
	Snapshot(ctx context.Context) (model.TradingState, error)
	GetPosition(ctx context.Context) (*model.Position, error)
	// OpenPosition fails with domain.ErrPositionExists if one is already open.
	OpenPosition(ctx context.Context, symbol string, qty int, avgPrice float64) error
	ClosePosition(ctx context.Context) error
	AddRealizedPnL(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error)
	RecordTradeToday(ctx context.Context) (int, error)
	TradesToday(ctx context.Context) (int, error)
	SetLastSellPrice(ctx context.Context, price *float64) error
	GetLastSellPrice(ctx context.Context) (*float64, error)
	// CloseTrade books a sell in one write: adds pnl, sets the last sell
	// price, clears the position and counts the trade. It returns the new
	// realized total and trade count, or domain.ErrNoPosition when flat.
	CloseTrade(ctx context.Context, pnl decimal.Decimal, lastSell *float64) (decimal.Decimal, int, error)
	Reset(ctx context.Context) (model.TradingState, error)
}
