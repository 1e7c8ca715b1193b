package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain/model"
)

type TradeService struct {
	repo port.Repository
}

func NewTradeService(repo port.Repository) *TradeService {
	return &TradeService{repo: repo}
}

// RecordTrade journals an executed order, assigning an id when missing.
func (s *TradeService) RecordTrade(ctx context.Context, trade *model.TradeRecord) error {
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	if trade.Timestamp.IsZero() {
		trade.Timestamp = time.Now().UTC()
	}
	return s.repo.InsertTrade(ctx, trade)
}

func (s *TradeService) ListTrades(ctx context.Context, since time.Time) ([]*model.TradeRecord, error) {
	return s.repo.ListTrades(ctx, since)
}
