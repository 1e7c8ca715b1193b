package service

import (
	"context"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain/model"
)

// Status what an observer sees of the trading state.
type Status struct {
	State               model.TradingState
	TradesToday         int
	MaxQuantityPerTrade int
}

// PositionService read-mostly view over the state store for status and
// maintenance commands.
type PositionService struct {
	store    port.StateStore
	quantity int
}

func NewPositionService(store port.StateStore, quantity int) *PositionService {
	return &PositionService{store: store, quantity: quantity}
}

func (s *PositionService) GetPosition(ctx context.Context) (*model.Position, error) {
	return s.store.GetPosition(ctx)
}

// Status snapshot plus today's trade count after any daily rollover.
func (s *PositionService) Status(ctx context.Context) (*Status, error) {
	st, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.store.TradesToday(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{State: st, TradesToday: n, MaxQuantityPerTrade: s.quantity}, nil
}

func (s *PositionService) Reset(ctx context.Context) (model.TradingState, error) {
	return s.store.Reset(ctx)
}
