package service

import (
	"context"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain/model"
)

type SignalService struct {
	repo port.Repository
}

func NewSignalService(repo port.Repository) *SignalService {
	return &SignalService{repo: repo}
}

func (s *SignalService) CreateSignal(ctx context.Context, ts int64, symbol string, side model.Side, reason string, price float64) error {
	return s.repo.InsertSignal(ctx, ts, symbol, string(side), reason, price)
}
