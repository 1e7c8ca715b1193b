package trader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"ltpbot/internal/application/container"
	"ltpbot/internal/application/port"
	"ltpbot/internal/application/service"
	"ltpbot/internal/domain"
	"ltpbot/internal/domain/model"
	domainsvc "ltpbot/internal/domain/service"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	now    time.Time
	afters int
	onWait func(n int)
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.afters++
	c.now = c.now.Add(d)
	if c.onWait != nil {
		c.onWait(c.afters)
	}
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// seqFeed serves one price per call; 0 or an exhausted sequence is a miss.
type seqFeed struct {
	prices []float64
	calls  int
}

func (f *seqFeed) Name() string { return "seq" }

func (f *seqFeed) GetPrice(ctx context.Context, symbol, exchangeCode string) (float64, error) {
	i := f.calls
	f.calls++
	if i >= len(f.prices) || f.prices[i] == 0 {
		return 0, domain.ErrPriceUnavailable
	}
	return f.prices[i], nil
}

type fakeBroker struct {
	fail   int // fail the next n orders
	fill   float64
	orders []model.OrderRequest
}

func (b *fakeBroker) Name() string                      { return "fake" }
func (b *fakeBroker) Connect(ctx context.Context) error { return nil }
func (b *fakeBroker) GetPrice(ctx context.Context, code, exchangeCode string) (float64, error) {
	return 0, domain.ErrPriceUnavailable
}

func (b *fakeBroker) PlaceMarketOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error) {
	if b.fail > 0 {
		b.fail--
		return nil, fmt.Errorf("rejected: %w", domain.ErrOrderExecution)
	}
	b.orders = append(b.orders, req)
	return &model.OrderResult{OrderID: fmt.Sprintf("o-%d", len(b.orders)), Filled: true, AvgPrice: b.fill}, nil
}

func (b *fakeBroker) GetOrderStatus(ctx context.Context, orderID string) (json.RawMessage, error) {
	return nil, nil
}

type memStore struct {
	st          model.TradingState
	writes      int
	closeFail   int // fail the next n CloseTrade calls with no write
	bookings    int
	snapshotErr error
}

func (m *memStore) Snapshot(ctx context.Context) (model.TradingState, error) {
	if m.snapshotErr != nil {
		return model.TradingState{}, m.snapshotErr
	}
	return m.st, nil
}

func (m *memStore) GetPosition(ctx context.Context) (*model.Position, error) {
	return m.st.Position, nil
}

func (m *memStore) OpenPosition(ctx context.Context, symbol string, qty int, avgPrice float64) error {
	if m.st.Position != nil {
		return domain.ErrPositionExists
	}
	m.writes++
	m.st.Position = &model.Position{Symbol: symbol, Quantity: qty, AvgPrice: avgPrice}
	return nil
}

func (m *memStore) ClosePosition(ctx context.Context) error {
	m.writes++
	m.st.Position = nil
	return nil
}

func (m *memStore) AddRealizedPnL(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	m.writes++
	m.st.TotalRealizedPnL = m.st.TotalRealizedPnL.Add(amount)
	return m.st.TotalRealizedPnL, nil
}

func (m *memStore) RecordTradeToday(ctx context.Context) (int, error) {
	m.writes++
	m.st.TradesToday.Count++
	return m.st.TradesToday.Count, nil
}

func (m *memStore) TradesToday(ctx context.Context) (int, error) {
	return m.st.TradesToday.Count, nil
}

func (m *memStore) SetLastSellPrice(ctx context.Context, price *float64) error {
	m.writes++
	m.st.LastSellPrice = price
	return nil
}

func (m *memStore) GetLastSellPrice(ctx context.Context) (*float64, error) {
	return m.st.LastSellPrice, nil
}

func (m *memStore) CloseTrade(ctx context.Context, pnl decimal.Decimal, lastSell *float64) (decimal.Decimal, int, error) {
	if m.closeFail > 0 {
		m.closeFail--
		return decimal.Zero, 0, domain.ErrLockTimeout
	}
	if m.st.Position == nil {
		return decimal.Zero, 0, domain.ErrNoPosition
	}
	m.writes++
	m.bookings++
	m.st.TotalRealizedPnL = m.st.TotalRealizedPnL.Add(pnl)
	m.st.LastSellPrice = lastSell
	m.st.Position = nil
	m.st.TradesToday.Count++
	return m.st.TotalRealizedPnL, m.st.TradesToday.Count, nil
}

func (m *memStore) Reset(ctx context.Context) (model.TradingState, error) {
	m.writes++
	m.st = model.DefaultState(testNow)
	return m.st, nil
}

type harness struct {
	svc    *Service
	feed   *seqFeed
	broker *fakeBroker
	store  *memStore
	clock  *fakeClock
	rules  *domainsvc.RuleEngine
}

func testRules() domainsvc.RuleConfig {
	return domainsvc.RuleConfig{
		ExchangeCode:     "NSE",
		Quantity:         1,
		BuyDropPct:       0.01,
		TakeProfitPct:    0.02,
		StopLossPct:      0.01,
		PollInterval:     5 * time.Second,
		MinWarmupSamples: 3,
		BuyMode:          domainsvc.BuyModeDropFromHigh,
		Hours:            domainsvc.TradingHours{TZ: "UTC", Open: "00:00", Close: "23:59"},
	}
}

func newHarness(cfg domainsvc.RuleConfig, prices ...float64) *harness {
	h := &harness{
		feed:   &seqFeed{prices: prices},
		broker: &fakeBroker{},
		store:  &memStore{st: model.DefaultState(testNow)},
		clock:  &fakeClock{now: testNow},
		rules:  domainsvc.NewRuleEngine(cfg),
	}
	router := service.NewQuoteRouter(service.QuoteRouterDeps{
		Routes: []service.QuoteRoute{{Feed: h.feed}},
		Clock:  h.clock,
	})
	h.svc = NewService(ServiceDeps{
		Router:     router,
		Rules:      h.rules,
		Store:      h.store,
		Broker:     h.broker,
		Clock:      h.clock,
		Instrument: model.Instrument{Display: "INFY", VenueCode: "INFTEC"},
	})
	return h
}

func (h *harness) ticks(t *testing.T, want ...Outcome) {
	t.Helper()
	for i, w := range want {
		if got := h.svc.Tick(context.Background()); got != w {
			t.Fatalf("tick %d: expected %s, got %s", i+1, w, got)
		}
	}
}

// captureLog sends the global logger to a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

// countRecords counts JSON log lines with the given level and message.
func countRecords(t *testing.T, buf *bytes.Buffer, level, msg string) int {
	t.Helper()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var rec struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("bad log line %q: %v", sc.Text(), err)
		}
		if rec.Level == level && rec.Message == msg {
			n++
		}
	}
	return n
}

func TestNoQuoteTicksLeaveStateUntouched(t *testing.T) {
	buf := captureLog(t)
	h := newHarness(testRules())
	before := h.store.st

	h.ticks(t, OutcomeNoQuote, OutcomeNoQuote, OutcomeNoQuote)

	if n := countRecords(t, buf, "warn", "no quote available"); n != 3 {
		t.Errorf("expected 3 no quote warnings, got %d", n)
	}

	if h.store.writes != 0 {
		t.Errorf("expected no state writes, got %d", h.store.writes)
	}
	if len(h.broker.orders) != 0 {
		t.Errorf("expected no orders, got %d", len(h.broker.orders))
	}
	if h.store.st.Position != before.Position || !h.store.st.TotalRealizedPnL.Equal(before.TotalRealizedPnL) {
		t.Errorf("state changed: %+v", h.store.st)
	}
}

func TestDropThenTakeProfit(t *testing.T) {
	h := newHarness(testRules(), 100, 99, 98, 99, 100)

	h.ticks(t, OutcomeWarmup, OutcomeWarmup, OutcomeBought, OutcomeHolding, OutcomeSold)

	if len(h.broker.orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(h.broker.orders))
	}
	buy, sell := h.broker.orders[0], h.broker.orders[1]
	if buy.Side != model.SideBuy || buy.Code != "INFTEC" || buy.Quantity != 1 {
		t.Errorf("unexpected buy order %+v", buy)
	}
	if sell.Side != model.SideSell || sell.Quantity != 1 {
		t.Errorf("unexpected sell order %+v", sell)
	}

	st := h.store.st
	if st.Position != nil {
		t.Errorf("expected flat after sell, got %+v", st.Position)
	}
	if !st.TotalRealizedPnL.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected realized pnl 2, got %s", st.TotalRealizedPnL)
	}
	if st.LastSellPrice == nil || *st.LastSellPrice != 100 {
		t.Errorf("expected last sell 100, got %v", st.LastSellPrice)
	}
	if st.TradesToday.Count != 1 {
		t.Errorf("expected 1 trade today, got %d", st.TradesToday.Count)
	}
}

func TestFillPriceFromBroker(t *testing.T) {
	cfg := testRules()
	cfg.BuyImmediateOnStart = true
	h := newHarness(cfg, 100)
	h.broker.fill = 100.25

	h.ticks(t, OutcomeBought)

	if pos := h.store.st.Position; pos == nil || pos.AvgPrice != 100.25 || pos.Symbol != "INFY" {
		t.Fatalf("expected position at broker fill, got %+v", pos)
	}
}

func TestRealizedPnLIsSumOfSells(t *testing.T) {
	cfg := testRules()
	cfg.BuyImmediateOnStart = true
	// immediate buy 100, stop out at 98, re-enter at 97, take profit at 99
	h := newHarness(cfg, 100, 98, 97, 99)

	h.ticks(t, OutcomeBought, OutcomeSold, OutcomeBought, OutcomeSold)

	want := decimal.NewFromInt(-2).Add(decimal.NewFromInt(2))
	if !h.store.st.TotalRealizedPnL.Equal(want) {
		t.Errorf("expected total %s, got %s", want, h.store.st.TotalRealizedPnL)
	}
	if h.store.st.TradesToday.Count != 2 {
		t.Errorf("expected 2 trades, got %d", h.store.st.TradesToday.Count)
	}
}

func TestBrokerFailureLeavesStateUntouched(t *testing.T) {
	cfg := testRules()
	cfg.BuyImmediateOnStart = true
	h := newHarness(cfg, 100, 100)
	h.broker.fail = 1

	h.ticks(t, OutcomeOrderFailed)
	if h.store.writes != 0 || h.store.st.Position != nil {
		t.Fatalf("failed order must not mutate state, writes=%d", h.store.writes)
	}

	// the immediate buy is still pending and retried
	h.ticks(t, OutcomeBought)
	if h.store.st.Position == nil {
		t.Fatal("expected position after retry")
	}
}

func TestSellFailureRetriedNextTick(t *testing.T) {
	h := newHarness(testRules(), 98, 98)
	h.store.st.Position = &model.Position{Symbol: "INFY", Quantity: 2, AvgPrice: 100}
	h.broker.fail = 1

	h.ticks(t, OutcomeOrderFailed, OutcomeSold)

	if !h.store.st.TotalRealizedPnL.Equal(decimal.NewFromInt(-4)) {
		t.Errorf("expected pnl -4, got %s", h.store.st.TotalRealizedPnL)
	}
}

func TestFailedBookingDoesNotSellTwice(t *testing.T) {
	h := newHarness(testRules(), 98, 98)
	h.store.st.Position = &model.Position{Symbol: "INFY", Quantity: 2, AvgPrice: 100}
	h.store.closeFail = 1

	// the second tick books the executed sell, then evaluates flat
	h.ticks(t, OutcomeError, OutcomeWarmup)

	if len(h.broker.orders) != 1 || h.broker.orders[0].Side != model.SideSell {
		t.Fatalf("expected exactly one sell order, got %+v", h.broker.orders)
	}
	if h.store.bookings != 1 {
		t.Errorf("expected one booking, got %d", h.store.bookings)
	}
	if !h.store.st.TotalRealizedPnL.Equal(decimal.NewFromInt(-4)) {
		t.Errorf("expected pnl -4, got %s", h.store.st.TotalRealizedPnL)
	}
	if h.store.st.TradesToday.Count != 1 || h.store.st.Position != nil {
		t.Errorf("unexpected state %+v", h.store.st)
	}
	if h.store.st.LastSellPrice == nil || *h.store.st.LastSellPrice != 98 {
		t.Errorf("expected last sell 98, got %v", h.store.st.LastSellPrice)
	}
}

func TestReentryBelowLastSell(t *testing.T) {
	h := newHarness(testRules(), 99.5)
	last := 100.0
	h.store.st.LastSellPrice = &last

	h.ticks(t, OutcomeBought)

	if h.rules.Samples() != 0 {
		t.Errorf("re-entry should not feed the window, got %d samples", h.rules.Samples())
	}
}

func TestImmediateBuyOncePerRun(t *testing.T) {
	cfg := testRules()
	cfg.BuyImmediateOnStart = true
	cfg.StopLossPct = 0.5
	cfg.TakeProfitPct = 0.001
	// buy 100, sell 101, then 102 is above last sell and not a drop
	h := newHarness(cfg, 100, 101, 102)

	h.ticks(t, OutcomeBought, OutcomeSold, OutcomeIdle)
}

func TestMarketClosed(t *testing.T) {
	cfg := testRules()
	cfg.BuyImmediateOnStart = true
	cfg.Hours = domainsvc.TradingHours{TZ: "Asia/Kolkata", Open: "09:15", Close: "15:30", BufferMin: 1}
	h := newHarness(cfg, 100, 100)
	h.clock.now = time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC) // 16:30 IST

	h.ticks(t, OutcomeMarketClosed)
	if len(h.broker.orders) != 0 || h.rules.Samples() != 0 {
		t.Fatalf("closed market must not trade or sample")
	}

	h.store.st.Position = &model.Position{Symbol: "INFY", Quantity: 1, AvgPrice: 200}
	h.ticks(t, OutcomeMarketClosed)
	if h.store.st.Position == nil {
		t.Fatal("exits must not be evaluated while closed")
	}
}

func TestResumeHeldPosition(t *testing.T) {
	h := newHarness(testRules(), 99)
	h.store.st.Position = &model.Position{Symbol: "INFY", Quantity: 1, AvgPrice: 100}

	h.ticks(t, OutcomeSold)

	if h.broker.orders[0].Side != model.SideSell {
		t.Errorf("expected a sell, got %+v", h.broker.orders[0])
	}
}

func TestFlatten(t *testing.T) {
	h := newHarness(testRules())

	if err := h.svc.Flatten(context.Background()); !errors.Is(err, domain.ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}

	h.store.st.Position = &model.Position{Symbol: "INFY", Quantity: 3, AvgPrice: 100}
	last := 105.0
	h.store.st.LastSellPrice = &last

	// no quote: zero pnl and no last sell price
	if err := h.svc.Flatten(context.Background()); err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	st := h.store.st
	if st.Position != nil || st.LastSellPrice != nil || !st.TotalRealizedPnL.IsZero() || st.TradesToday.Count != 1 {
		t.Errorf("unexpected state after flatten: %+v", st)
	}
}

func TestFlattenWithQuote(t *testing.T) {
	h := newHarness(testRules(), 101)
	h.store.st.Position = &model.Position{Symbol: "INFY", Quantity: 2, AvgPrice: 100}

	if err := h.svc.Flatten(context.Background()); err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	if !h.store.st.TotalRealizedPnL.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected pnl 2, got %s", h.store.st.TotalRealizedPnL)
	}
	if h.store.st.LastSellPrice == nil || *h.store.st.LastSellPrice != 101 {
		t.Errorf("expected last sell 101, got %v", h.store.st.LastSellPrice)
	}
}

func TestFlattenMarketClosed(t *testing.T) {
	cfg := testRules()
	cfg.Hours = domainsvc.TradingHours{TZ: "UTC", Open: "13:00", Close: "14:00"}
	h := newHarness(cfg, 101)
	h.store.st.Position = &model.Position{Symbol: "INFY", Quantity: 1, AvgPrice: 100}

	if err := h.svc.Flatten(context.Background()); !errors.Is(err, domain.ErrMarketClosed) {
		t.Fatalf("expected ErrMarketClosed, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(testRules(), 100, 100, 100, 100, 100)
	ctx, cancel := context.WithCancel(context.Background())
	h.clock.onWait = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	err := h.svc.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.feed.calls != 3 {
		t.Errorf("expected 3 ticks, got %d", h.feed.calls)
	}
}

func TestRunKeepsTickingWhenStartupReadFails(t *testing.T) {
	buf := captureLog(t)
	h := newHarness(testRules(), 100, 100)
	h.store.snapshotErr = domain.ErrLockTimeout
	ctx, cancel := context.WithCancel(context.Background())
	h.clock.onWait = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	err := h.svc.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.feed.calls != 2 {
		t.Errorf("expected 2 ticks, got %d", h.feed.calls)
	}
	if n := countRecords(t, buf, "warn", "read state failed at startup"); n != 1 {
		t.Errorf("expected one startup read warning, got %d", n)
	}
}

type recordingRepo struct {
	noopRepo
	trades  []*model.TradeRecord
	signals int
}

func (r *recordingRepo) InsertTrade(ctx context.Context, trade *model.TradeRecord) error {
	r.trades = append(r.trades, trade)
	return nil
}

func (r *recordingRepo) InsertSignal(ctx context.Context, ts int64, symbol, side, reason string, price float64) error {
	r.signals++
	return nil
}

func TestServicesFromContainer(t *testing.T) {
	h := newHarness(testRules(), 99)
	h.store.st.Position = &model.Position{Symbol: "INFY", Quantity: 1, AvgPrice: 100}
	repo := &recordingRepo{}
	c := container.New(h.store, repo, 1)
	h.svc = NewService(ServiceDeps{
		Services:   c,
		Router:     h.svc.deps.Router,
		Rules:      h.rules,
		Broker:     h.broker,
		Clock:      h.clock,
		Instrument: model.Instrument{Display: "INFY", VenueCode: "INFTEC"},
	})
	if h.svc.trades != c.TradeService() || h.svc.deps.Store != port.StateStore(h.store) {
		t.Fatal("service should use the container's store and journal")
	}

	h.ticks(t, OutcomeSold)

	if len(repo.trades) != 1 || repo.trades[0].Side != model.SideSell || repo.signals != 1 {
		t.Errorf("expected one journaled sell and signal, got %+v and %d", repo.trades, repo.signals)
	}
}

type observingBroker struct {
	fakeBroker
	observed map[string]float64
}

func (b *observingBroker) ObservePrice(code string, price float64) {
	b.observed[code] = price
}

func TestRoutedQuotesReachObservingBroker(t *testing.T) {
	h := newHarness(testRules(), 101.5)
	ob := &observingBroker{observed: make(map[string]float64)}
	h.svc.deps.Broker = ob

	h.ticks(t, OutcomeWarmup)

	if ob.observed["INFTEC"] != 101.5 {
		t.Errorf("expected venue code observed at 101.5, got %v", ob.observed)
	}
}
