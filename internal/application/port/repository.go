package port

import (
	"context"
	"time"

	"ltpbot/internal/domain/model"
)

// Repository append-only trade journal. It is an audit trail, never the
// source of truth for positions.
type Repository interface {
	// Price operations
	UpsertLatestPrice(ctx context.Context, source, symbol string, price float64, ts int64) error

	// Trade operations
	InsertTrade(ctx context.Context, trade *model.TradeRecord) error
	ListTrades(ctx context.Context, since time.Time) ([]*model.TradeRecord, error)

	// Signal operations
	InsertSignal(ctx context.Context, ts int64, symbol, side, reason string, price float64) error

	// Connection management
	Close() error
}
