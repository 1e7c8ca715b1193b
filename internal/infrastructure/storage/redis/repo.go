package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

type Repo struct {
	rdb          *redis.Client
	prefix       string
	ttl          time.Duration
	keyLatest    string // prefix + ":latest"
	tradeStream  string
	signalStream string
	signalChan   string
}

type LatestPrice struct {
	Source string  `json:"source"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, signalStream, signalChan string) *Repo {
	if strings.TrimSpace(signalStream) == "" {
		signalStream = prefix + ":signals"
	}
	if strings.TrimSpace(signalChan) == "" {
		signalChan = prefix + ":signals:pub"
	}
	return &Repo{
		rdb:          rdb,
		prefix:       prefix,
		ttl:          ttl,
		keyLatest:    prefix + ":latest",
		tradeStream:  prefix + ":trades",
		signalStream: signalStream,
		signalChan:   signalChan,
	}
}

func (r *Repo) UpsertLatestPrice(ctx context.Context, source, symbol string, price float64, ts int64) error {
	if price <= 0 {
		return nil
	}
	lp := LatestPrice{Source: source, Symbol: symbol, Price: price, Ts: ts}
	b, _ := json.Marshal(lp)

	// Hash: field = "yahoo:INFY.NS" -> json
	field := fmt.Sprintf("%s:%s", source, symbol)
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, field, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// InsertTrade XADD with the trade timestamp as the entry id, so ListTrades
// can range by time.
func (r *Repo) InsertTrade(ctx context.Context, t *model.TradeRecord) error {
	_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.tradeStream,
		ID:     fmt.Sprintf("%d-*", t.Timestamp.UnixMilli()),
		Values: map[string]any{
			"id":       t.ID,
			"symbol":   t.Symbol,
			"side":     string(t.Side),
			"quantity": t.Quantity,
			"price":    t.Price,
			"pnl":      t.PnL,
			"reason":   t.Reason,
			"order_id": t.OrderID,
			"ts_ms":    t.Timestamp.UnixMilli(),
		},
	}).Result()
	return err
}

func (r *Repo) ListTrades(ctx context.Context, since time.Time) ([]*model.TradeRecord, error) {
	msgs, err := r.rdb.XRange(ctx, r.tradeStream, strconv.FormatInt(since.UnixMilli(), 10), "+").Result()
	if err != nil {
		return nil, err
	}
	out := make([]*model.TradeRecord, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, tradeFromValues(m.Values))
	}
	return out, nil
}

func tradeFromValues(v map[string]any) *model.TradeRecord {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	num := func(k string) float64 {
		f, _ := strconv.ParseFloat(str(k), 64)
		return f
	}
	qty, _ := strconv.Atoi(str("quantity"))
	ts, _ := strconv.ParseInt(str("ts_ms"), 10, 64)
	return &model.TradeRecord{
		ID:        str("id"),
		Symbol:    str("symbol"),
		Side:      model.Side(str("side")),
		Quantity:  qty,
		Price:     num("price"),
		PnL:       num("pnl"),
		Reason:    str("reason"),
		OrderID:   str("order_id"),
		Timestamp: time.UnixMilli(ts).UTC(),
	}
}

func (r *Repo) InsertSignal(ctx context.Context, ts int64, symbol, side, reason string, price float64) error {
	// 1) Stream: XADD <stream> * ts symbol side reason price
	_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.signalStream,
		Values: map[string]any{
			"ts_ms":  ts,
			"symbol": symbol,
			"side":   side,
			"reason": reason,
			"price":  price,
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	msg := fmt.Sprintf(`{"ts_ms":%d,"symbol":%q,"side":%q,"reason":%q,"price":%.4f}`, ts, symbol, side, reason, price)
	return r.rdb.Publish(ctx, r.signalChan, msg).Err()
}

// Close is a no-op: the client is owned by the caller.
func (r *Repo) Close() error { return nil }

var _ port.Repository = (*Repo)(nil)
