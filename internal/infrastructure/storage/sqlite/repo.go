package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) GetDB() *sql.DB {
	return r.db
}

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS prices (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source TEXT NOT NULL,
  symbol TEXT NOT NULL,
  price REAL NOT NULL,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  UNIQUE(source, symbol)
);
CREATE INDEX IF NOT EXISTS idx_prices_ts ON prices(ts_ms);

CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  price REAL NOT NULL,
  pnl REAL NOT NULL,
  reason TEXT NOT NULL,
  order_id TEXT NOT NULL,
  ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts_ms);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);

CREATE TABLE IF NOT EXISTS signals (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts_ms INTEGER NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  reason TEXT NOT NULL,
  price REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(ts_ms);
`)
	return err
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, source, symbol string, price float64, ts int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO prices(source, symbol, price, ts_ms, created_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(source, symbol) DO UPDATE SET
		price=excluded.price, ts_ms=excluded.ts_ms
	`, source, symbol, price, ts, ts)
	return err
}

// LatestPrice last journaled price for source and symbol.
func (r *Repo) LatestPrice(ctx context.Context, source, symbol string) (price float64, ts int64, err error) {
	err = r.db.QueryRowContext(ctx, `SELECT price, ts_ms FROM prices WHERE source=? AND symbol=?`, source, symbol).
		Scan(&price, &ts)
	return
}

func (r *Repo) InsertTrade(ctx context.Context, t *model.TradeRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trades(id, symbol, side, quantity, price, pnl, reason, order_id, ts_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Symbol, string(t.Side), t.Quantity, t.Price, t.PnL, t.Reason, t.OrderID, t.Timestamp.UnixMilli())
	return err
}

func (r *Repo) ListTrades(ctx context.Context, since time.Time) ([]*model.TradeRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, symbol, side, quantity, price, pnl, reason, order_id, ts_ms
		FROM trades WHERE ts_ms >= ? ORDER BY ts_ms ASC
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
	_, err := r.db.ExecContext(ctx, `INSERT INTO signals(ts_ms, symbol, side, reason, price) VALUES(?, ?, ?, ?, ?)`, ts, symbol, side, reason, price)
	return err
}

var _ port.Repository = (*Repo)(nil)
