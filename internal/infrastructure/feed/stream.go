package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain"
)

const (
	NameStream = "stream"

	DefaultStaleAfter = 30 * time.Second
)

func init() {
	Register(NameStream, func(opts Options) (port.PriceFeed, error) {
		if strings.TrimSpace(opts.WsURL) == "" {
			return nil, errors.New("stream ws_url empty")
		}
		return NewStreamFeed(opts.WsURL, opts.StaleAfter), nil
	})
}

// StreamFeed caches the last traded price per symbol from a websocket
// ticker stream. A cached price older than staleAfter counts as absent.
type StreamFeed struct {
	wsURL      string
	staleAfter time.Duration

	mu      sync.Mutex
	symbols map[string]struct{}
	prices  map[string]streamPrice
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
}

type streamPrice struct {
	price float64
	at    time.Time
}

type streamSubscribe struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

type streamTick struct {
	Symbol string `json:"symbol"`
	LTP    any    `json:"ltp"`
}

func NewStreamFeed(wsURL string, staleAfter time.Duration) *StreamFeed {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &StreamFeed{
		wsURL:      strings.TrimSpace(wsURL),
		staleAfter: staleAfter,
		symbols:    make(map[string]struct{}),
		prices:     make(map[string]streamPrice),
	}
}

func (f *StreamFeed) Name() string { return NameStream }

// Subscribe adds symbols and starts the connection if it is not running.
func (f *StreamFeed) Subscribe(symbols ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var added []string
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := f.symbols[s]; ok {
			continue
		}
		f.symbols[s] = struct{}{}
		added = append(added, s)
	}

	if f.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		f.cancel = cancel
		f.done = make(chan struct{})
		go f.run(ctx)
		return
	}
	if f.conn != nil && len(added) > 0 {
		if err := f.conn.WriteJSON(streamSubscribe{Op: "subscribe", Symbols: added}); err != nil {
			log.Warn().Str("feed", f.Name()).Err(err).Msg("ws subscribe failed")
		}
	}
}

func (f *StreamFeed) GetPrice(ctx context.Context, symbol, exchangeCode string) (float64, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	f.Subscribe(sym)

	f.mu.Lock()
	p, ok := f.prices[sym]
	f.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("stream %s: no tick yet: %w", sym, domain.ErrPriceUnavailable)
	}
	if age := time.Since(p.at); age > f.staleAfter {
		return 0, fmt.Errorf("stream %s: tick %s old: %w", sym, age.Round(time.Second), domain.ErrPriceUnavailable)
	}
	return p.price, nil
}

// Close stops the connection loop.
func (f *StreamFeed) Close() error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (f *StreamFeed) run(ctx context.Context) {
	defer close(f.done)

	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		log.Info().Str("feed", f.Name()).Str("url", f.wsURL).Msg("ws connecting")
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, _, err := websocket.DefaultDialer.DialContext(cctx, f.wsURL, nil)
		cancel()
		if err != nil {
			log.Error().Str("feed", f.Name()).Err(err).Msg("ws dial failed")
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = minDur(backoff*2, maxBackoff)
			continue
		}

		if err := f.attach(conn); err != nil {
			log.Error().Str("feed", f.Name()).Err(err).Msg("ws subscribe failed")
			_ = conn.Close()
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = minDur(backoff*2, maxBackoff)
			continue
		}

		backoff = 500 * time.Millisecond
		log.Info().Str("feed", f.Name()).Msg("ws connected")

		err = readLoop(ctx, conn, f.onMessage)

		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}

		log.Warn().Str("feed", f.Name()).Err(err).Msg("ws disconnected, reconnecting")
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = minDur(backoff*2, maxBackoff)
	}
}

// attach sends the full subscription and publishes conn for later
// incremental subscribes.
func (f *StreamFeed) attach(conn *websocket.Conn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	symbols := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		symbols = append(symbols, s)
	}
	if err := conn.WriteJSON(streamSubscribe{Op: "subscribe", Symbols: symbols}); err != nil {
		return err
	}
	f.conn = conn
	return nil
}

func (f *StreamFeed) onMessage(b []byte) {
	var msg streamTick
	if err := json.Unmarshal(b, &msg); err != nil {
		log.Debug().Str("feed", f.Name()).Err(err).Msg("json unmarshal failed")
		return
	}
	sym := strings.ToUpper(strings.TrimSpace(msg.Symbol))
	px, ok := Number(msg.LTP)
	if sym == "" || !ok {
		return
	}
	f.mu.Lock()
	f.prices[sym] = streamPrice{price: px, at: time.Now()}
	f.mu.Unlock()
}

func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

var _ port.PriceFeed = (*StreamFeed)(nil)
