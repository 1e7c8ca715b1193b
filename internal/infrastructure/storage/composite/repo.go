package composite

import (
	"context"
	"time"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain/model"
)

type Repo struct {
	repos []port.Repository
}

func New(repos ...port.Repository) *Repo {
	// nil repos are allowed; filter in constructor for safety
	out := make([]port.Repository, 0, len(repos))
	for _, r := range repos {
		if r != nil {
			out = append(out, r)
		}
	}
	return &Repo{repos: out}
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, source, symbol string, price float64, ts int64) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.UpsertLatestPrice(ctx, source, symbol, price, ts); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) InsertTrade(ctx context.Context, trade *model.TradeRecord) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.InsertTrade(ctx, trade); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ListTrades reads from the first repo that answers.
func (r *Repo) ListTrades(ctx context.Context, since time.Time) ([]*model.TradeRecord, error) {
	var firstErr error
	for _, repo := range r.repos {
		trades, err := repo.ListTrades(ctx, since)
		if err == nil {
			return trades, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func (r *Repo) InsertSignal(ctx context.Context, ts int64, symbol, side, reason string, price float64) error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.InsertSignal(ctx, ts, symbol, side, reason, price); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Repo) Close() error {
	var firstErr error
	for _, repo := range r.repos {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.Repository = (*Repo)(nil)
