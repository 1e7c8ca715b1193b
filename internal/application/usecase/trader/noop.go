package trader

import (
	"context"
	"time"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain/model"
)

type noopRepo struct{}

func NewNoopRepo() port.Repository { return &noopRepo{} }

func (n *noopRepo) UpsertLatestPrice(ctx context.Context, source, symbol string, price float64, ts int64) error {
	return nil
}
func (n *noopRepo) InsertTrade(ctx context.Context, trade *model.TradeRecord) error {
	return nil
}
func (n *noopRepo) ListTrades(ctx context.Context, since time.Time) ([]*model.TradeRecord, error) {
	return nil, nil
}
func (n *noopRepo) InsertSignal(ctx context.Context, ts int64, symbol, side, reason string, price float64) error {
	return nil
}
func (n *noopRepo) Close() error { return nil }

type noopMetrics struct{}

func (noopMetrics) ObserveTick(string)              {}
func (noopMetrics) ObserveOrder(model.Side, string) {}
func (noopMetrics) ObserveExit(string)              {}
func (noopMetrics) ObserveQuote(string)             {}
func (noopMetrics) SetRealizedPnL(float64)          {}
func (noopMetrics) SetPositionOpen(bool)            {}
