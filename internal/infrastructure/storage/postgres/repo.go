package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS prices (
  source TEXT NOT NULL,
  symbol TEXT NOT NULL,
  price DOUBLE PRECISION NOT NULL,
  ts_ms BIGINT NOT NULL,
  PRIMARY KEY (source, symbol)
);

CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  price DOUBLE PRECISION NOT NULL,
  pnl DOUBLE PRECISION NOT NULL,
  reason TEXT NOT NULL,
  order_id TEXT NOT NULL,
  ts_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts_ms);

CREATE TABLE IF NOT EXISTS signals (
  id BIGSERIAL PRIMARY KEY,
  ts_ms BIGINT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  reason TEXT NOT NULL,
  price DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(ts_ms);
`)
	return err
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, source, symbol string, price float64, ts int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO prices(source, symbol, price, ts_ms) VALUES($1, $2, $3, $4)
		ON CONFLICT (source, symbol) DO UPDATE SET price=EXCLUDED.price, ts_ms=EXCLUDED.ts_ms
	`, source, symbol, price, ts)
	return err
}

func (r *Repo) InsertTrade(ctx context.Context, t *model.TradeRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trades(id, symbol, side, quantity, price, pnl, reason, order_id, ts_ms)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.Symbol, string(t.Side), t.Quantity, t.Price, t.PnL, t.Reason, t.OrderID, t.Timestamp.UnixMilli())
	return err
}

func (r *Repo) ListTrades(ctx context.Context, since time.Time) ([]*model.TradeRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, symbol, side, quantity, price, pnl, reason, order_id, ts_ms
		FROM trades WHERE ts_ms >= $1 ORDER BY ts_ms ASC
	`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var side string
		var ts int64
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Quantity, &t.Price, &t.PnL, &t.Reason, &t.OrderID, &ts); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.Timestamp = time.UnixMilli(ts).UTC()
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (r *Repo) InsertSignal(ctx context.Context, ts int64, symbol, side, reason string, price float64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO signals(ts_ms, symbol, side, reason, price) VALUES($1, $2, $3, $4, $5)`, ts, symbol, side, reason, price)
	return err
}

var _ port.Repository = (*Repo)(nil)
