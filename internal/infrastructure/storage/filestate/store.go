package filestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain"
	"ltpbot/internal/domain/model"
	"ltpbot/internal/infrastructure/clock"
)

// DefaultLockTimeout bound on waiting for the state lock.
const DefaultLockTimeout = 10 * time.Second

// Store TradingState in a single JSON file. Every call holds the file lock
// for one read-modify-write; nothing else is done under the lock.
type Store struct {
	path  string
	lock  *fileLock
	clock port.Clock
	loc   *time.Location
}

type Options struct {
	LockTimeout time.Duration
	Clock       port.Clock
	// Location calendar for the daily trade counter; defaults to time.Local.
	Location *time.Location
}

func New(path string, opts Options) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Store{
		path:  path,
		lock:  &fileLock{path: path + ".lock", timeout: opts.LockTimeout},
		clock: opts.Clock,
		loc:   opts.Location,
	}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) now() time.Time {
	return s.clock.Now().In(s.loc)
}

// read loads the record; a missing or unreadable file yields defaults.
func (s *Store) read() model.TradingState {
	now := s.now()
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", s.path).Msg("read state failed, using defaults")
		}
		return model.DefaultState(now)
	}
	st := model.DefaultState(now)
	if err := json.Unmarshal(b, &st); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("state file corrupt, using defaults")
		return model.DefaultState(now)
	}
	if st.Position != nil && (st.Position.Quantity <= 0 || st.Position.AvgPrice <= 0) {
		log.Warn().Interface("position", st.Position).Msg("discarding invalid position")
		st.Position = nil
	}
	st.RollTradesToday(now)
	return st
}

// write replaces the file atomically: temp file, fsync, rename.
func (s *Store) write(st model.TradingState) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *Store) view(ctx context.Context) (model.TradingState, error) {
	release, err := s.lock.acquire(ctx)
	if err != nil {
		return model.TradingState{}, err
	}
	defer release()
	return s.read(), nil
}

func (s *Store) update(ctx context.Context, fn func(st *model.TradingState) error) (model.TradingState, error) {
	release, err := s.lock.acquire(ctx)
	if err != nil {
		return model.TradingState{}, err
	}
	defer release()

	st := s.read()
	if err := fn(&st); err != nil {
		return model.TradingState{}, err
	}
	if err := s.write(st); err != nil {
		return model.TradingState{}, fmt.Errorf("write state: %w", err)
	}
	return st, nil
}

func (s *Store) Snapshot(ctx context.Context) (model.TradingState, error) {
	return s.view(ctx)
}

func (s *Store) GetPosition(ctx context.Context) (*model.Position, error) {
	st, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	return st.Position, nil
}

func (s *Store) OpenPosition(ctx context.Context, symbol string, qty int, avgPrice float64) error {
	if qty <= 0 || avgPrice <= 0 {
		return fmt.Errorf("open position qty=%d avg=%v: invalid", qty, avgPrice)
	}
	_, err := s.update(ctx, func(st *model.TradingState) error {
		if st.Position != nil {
			return fmt.Errorf("%s: %w", st.Position.Symbol, domain.ErrPositionExists)
		}
		st.Position = &model.Position{Symbol: symbol, Quantity: qty, AvgPrice: avgPrice}
		return nil
	})
	return err
}

func (s *Store) ClosePosition(ctx context.Context) error {
	_, err := s.update(ctx, func(st *model.TradingState) error {
		st.Position = nil
		return nil
	})
	return err
}

func (s *Store) AddRealizedPnL(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	st, err := s.update(ctx, func(st *model.TradingState) error {
		st.TotalRealizedPnL = st.TotalRealizedPnL.Add(amount)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return st.TotalRealizedPnL, nil
}

func (s *Store) RecordTradeToday(ctx context.Context) (int, error) {
	st, err := s.update(ctx, func(st *model.TradingState) error {
		st.TradesToday.Count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return st.TradesToday.Count, nil
}

func (s *Store) TradesToday(ctx context.Context) (int, error) {
	st, err := s.view(ctx)
	if err != nil {
		return 0, err
	}
	return st.TradesToday.Count, nil
}

func (s *Store) SetLastSellPrice(ctx context.Context, price *float64) error {
	_, err := s.update(ctx, func(st *model.TradingState) error {
		if price == nil {
			st.LastSellPrice = nil
			return nil
		}
		px := *price
		st.LastSellPrice = &px
		return nil
	})
	return err
}

func (s *Store) GetLastSellPrice(ctx context.Context) (*float64, error) {
	st, err := s.view(ctx)
	if err != nil {
		return nil, err
	}
	return st.LastSellPrice, nil
}

func (s *Store) CloseTrade(ctx context.Context, pnl decimal.Decimal, lastSell *float64) (decimal.Decimal, int, error) {
	st, err := s.update(ctx, func(st *model.TradingState) error {
		if st.Position == nil {
			return domain.ErrNoPosition
		}
		st.TotalRealizedPnL = st.TotalRealizedPnL.Add(pnl)
		st.LastSellPrice = nil
		if lastSell != nil {
			px := *lastSell
			st.LastSellPrice = &px
		}
		st.Position = nil
		st.TradesToday.Count++
		return nil
	})
	if err != nil {
		return decimal.Zero, 0, err
	}
	return st.TotalRealizedPnL, st.TradesToday.Count, nil
}

func (s *Store) Reset(ctx context.Context) (model.TradingState, error) {
	return s.update(ctx, func(st *model.TradingState) error {
		*st = model.DefaultState(s.now())
		return nil
	})
}

var _ port.StateStore = (*Store)(nil)
