package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"ltpbot/internal/domain"
	"ltpbot/internal/domain/model"
)

type memStore struct {
	st model.TradingState
}

func (m *memStore) Snapshot(ctx context.Context) (model.TradingState, error) { return m.st, nil }

func (m *memStore) GetPosition(ctx context.Context) (*model.Position, error) {
	return m.st.Position, nil
}

func (m *memStore) OpenPosition(ctx context.Context, symbol string, qty int, avgPrice float64) error {
	if m.st.Position != nil {
		return domain.ErrPositionExists
	}
	m.st.Position = &model.Position{Symbol: symbol, Quantity: qty, AvgPrice: avgPrice}
	return nil
}

func (m *memStore) ClosePosition(ctx context.Context) error {
	m.st.Position = nil
	return nil
}

func (m *memStore) AddRealizedPnL(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	m.st.TotalRealizedPnL = m.st.TotalRealizedPnL.Add(amount)
	return m.st.TotalRealizedPnL, nil
}

func (m *memStore) RecordTradeToday(ctx context.Context) (int, error) {
	m.st.TradesToday.Count++
	return m.st.TradesToday.Count, nil
}

func (m *memStore) TradesToday(ctx context.Context) (int, error) {
	return m.st.TradesToday.Count, nil
}

func (m *memStore) SetLastSellPrice(ctx context.Context, price *float64) error {
	m.st.LastSellPrice = price
	return nil
}

func (m *memStore) GetLastSellPrice(ctx context.Context) (*float64, error) {
	return m.st.LastSellPrice, nil
}

func (m *memStore) CloseTrade(ctx context.Context, pnl decimal.Decimal, lastSell *float64) (decimal.Decimal, int, error) {
	if m.st.Position == nil {
		return decimal.Zero, 0, domain.ErrNoPosition
	}
	m.st.TotalRealizedPnL = m.st.TotalRealizedPnL.Add(pnl)
	m.st.LastSellPrice = lastSell
	m.st.Position = nil
	m.st.TradesToday.Count++
	return m.st.TotalRealizedPnL, m.st.TradesToday.Count, nil
}

func (m *memStore) Reset(ctx context.Context) (model.TradingState, error) {
	m.st = model.TradingState{}
	return m.st, nil
}

func TestPositionServiceStatus(t *testing.T) {
	store := &memStore{}
	ctx := context.Background()
	_ = store.OpenPosition(ctx, "INFY", 2, 1500)
	_, _ = store.RecordTradeToday(ctx)

	svc := NewPositionService(store, 2)
	status, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.State.Position == nil || status.State.Position.Symbol != "INFY" {
		t.Errorf("expected open INFY position, got %+v", status.State.Position)
	}
	if status.TradesToday != 1 || status.MaxQuantityPerTrade != 2 {
		t.Errorf("unexpected status %+v", status)
	}

	if _, err := svc.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	pos, err := svc.GetPosition(ctx)
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if pos != nil {
		t.Errorf("expected no position after reset, got %+v", pos)
	}
}
