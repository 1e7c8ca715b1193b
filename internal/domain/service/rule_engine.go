package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	// Zone database embedded so the trading-hours gate behaves the same on
	// hosts without /usr/share/zoneinfo.
	_ "time/tzdata"

	"ltpbot/internal/domain/model"
)

// BuyMode entry strategy selector
type BuyMode string

const (
	BuyModeDropFromHigh BuyMode = "drop_from_high"
	BuyModeBelowSMA     BuyMode = "below_sma"
)

// TradingHours daily session in a named zone. Open and Close are "HH:MM".
type TradingHours struct {
	TZ        string
	Open      string
	Close     string
	BufferMin int // shrinks the close edge inward
}

// RuleConfig thresholds the engine evaluates. Percentages are fractions
// (0.01 == 1%).
type RuleConfig struct {
	ExchangeCode        string
	Quantity            int
	BuyDropAbs          float64
	BuyDropPct          float64
	SMAWindow           int
	SMADropPct          float64
	TakeProfitAbs       float64
	TakeProfitPct       float64
	StopLossPct         float64
	PollInterval        time.Duration
	MinWarmupSamples    int
	BuyImmediateOnStart bool
	BuyMode             BuyMode
	Hours               TradingHours
}

// BuyDecision result of one entry evaluation, with the figures behind it.
type BuyDecision struct {
	Signal  bool
	Mode    BuyMode
	Skipped string // why rules were not evaluated: market_closed, warmup, sma_warmup

	High    float64
	DropAbs float64
	DropPct float64
	SMA     float64
	Gap     float64
}

// SellDecision result of one exit evaluation.
type SellDecision struct {
	Signal bool
	Reason string
	PnLAbs float64
	PnLPct float64
}

// RuleEngine evaluates entry/exit rules over a bounded price history.
// It performs no I/O.
type RuleEngine struct {
	cfg    RuleConfig
	window *PriceWindow

	session  *session
	hoursErr error
}

type session struct {
	loc            *time.Location
	openH, openM   int
	closeH, closeM int
	buffer         time.Duration
}

func NewRuleEngine(cfg RuleConfig) *RuleEngine {
	e := &RuleEngine{
		cfg:    cfg,
		window: NewPriceWindow(DefaultWindowSize),
	}
	e.session, e.hoursErr = parseHours(cfg.Hours)
	return e
}

func (e *RuleEngine) Config() RuleConfig { return e.cfg }

// HoursError non-nil when the trading-hours gate could not be parsed and the
// engine fails open.
func (e *RuleEngine) HoursError() error { return e.hoursErr }

// UpdatePrice appends ltp, evicting the oldest sample beyond capacity.
func (e *RuleEngine) UpdatePrice(ltp float64) {
	e.window.Push(ltp)
}

// Samples number of prices in the window.
func (e *RuleEngine) Samples() int { return e.window.Len() }

// Window copy of the price history, oldest first.
func (e *RuleEngine) Window() []float64 { return e.window.Values() }

// Ready reports whether the warmup floor has been reached.
func (e *RuleEngine) Ready() bool {
	return e.window.Len() >= e.cfg.MinWarmupSamples
}

// IsMarketOpen true only within [open, close-buffer] in the configured zone.
// A zone or time that fails to parse leaves the market open.
func (e *RuleEngine) IsMarketOpen(now time.Time) bool {
	if e.hoursErr != nil || e.session == nil {
		return true
	}
	s := e.session
	local := now.In(s.loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, s.openH, s.openM, 0, 0, s.loc)
	end := time.Date(y, m, d, s.closeH, s.closeM, 0, 0, s.loc).Add(-s.buffer)
	return !local.Before(start) && !local.After(end)
}

// ShouldBuy entry signal for ltp. The caller feeds ltp through UpdatePrice first.
func (e *RuleEngine) ShouldBuy(now time.Time, ltp float64) bool {
	return e.EvaluateBuy(now, ltp).Signal
}

func (e *RuleEngine) EvaluateBuy(now time.Time, ltp float64) BuyDecision {
	d := BuyDecision{Mode: e.mode()}
	if !e.IsMarketOpen(now) {
		d.Skipped = "market_closed"
		return d
	}
	if !e.Ready() && !e.cfg.BuyImmediateOnStart {
		d.Skipped = "warmup"
		return d
	}
	switch d.Mode {
	case BuyModeBelowSMA:
		e.evalBelowSMA(ltp, &d)
	default:
		e.evalDropFromHigh(ltp, &d)
	}
	return d
}

func (e *RuleEngine) mode() BuyMode {
	if e.cfg.BuyMode == BuyModeBelowSMA {
		return BuyModeBelowSMA
	}
	return BuyModeDropFromHigh
}

func (e *RuleEngine) evalDropFromHigh(ltp float64, d *BuyDecision) {
	high, ok := e.window.Max()
	if !ok {
		high = ltp
	}
	d.High = high
	if high <= 0 {
		return
	}
	d.DropAbs = high - ltp
	d.DropPct = d.DropAbs / high
	if e.cfg.BuyDropAbs > 0 && d.DropAbs >= e.cfg.BuyDropAbs {
		d.Signal = true
		return
	}
	d.Signal = d.DropPct >= e.cfg.BuyDropPct
}

func (e *RuleEngine) evalBelowSMA(ltp float64, d *BuyDecision) {
	need := e.cfg.SMAWindow
	if e.cfg.MinWarmupSamples > need {
		need = e.cfg.MinWarmupSamples
	}
	if e.window.Len() < need {
		d.Skipped = "sma_warmup"
		return
	}
	sma, ok := e.window.Mean(e.cfg.SMAWindow)
	if !ok {
		d.Skipped = "sma_warmup"
		return
	}
	d.SMA = sma
	if sma > 0 {
		d.Gap = (sma - ltp) / sma
	}
	d.Signal = d.Gap >= e.cfg.SMADropPct
}

// ShouldSell exit signal for a position bought at avgBuyPrice. A ltp <= 0
// stands for an absent price.
func (e *RuleEngine) ShouldSell(ltp, avgBuyPrice float64) (bool, string) {
	d := e.EvaluateSell(ltp, avgBuyPrice)
	return d.Signal, d.Reason
}

// EvaluateSell checks absolute take-profit, then percentage take-profit, then
// stop-loss; the first satisfied condition wins.
func (e *RuleEngine) EvaluateSell(ltp, avgBuyPrice float64) SellDecision {
	if ltp <= 0 || avgBuyPrice <= 0 {
		return SellDecision{Reason: model.ReasonNoPrice}
	}
	d := SellDecision{PnLAbs: ltp - avgBuyPrice}
	d.PnLPct = d.PnLAbs / avgBuyPrice
	switch {
	case e.cfg.TakeProfitAbs > 0 && d.PnLAbs >= e.cfg.TakeProfitAbs:
		d.Signal, d.Reason = true, model.ReasonTakeProfitAbs
	case d.PnLPct >= e.cfg.TakeProfitPct:
		d.Signal, d.Reason = true, model.ReasonTakeProfit
	case d.PnLPct <= -e.cfg.StopLossPct:
		d.Signal, d.Reason = true, model.ReasonStopLoss
	default:
		d.Reason = model.ReasonHold
	}
	return d
}

func parseHours(h TradingHours) (*session, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(h.TZ))
	if err != nil {
		return nil, fmt.Errorf("market_tz %q: %w", h.TZ, err)
	}
	oh, om, err := parseClock(h.Open)
	if err != nil {
		return nil, fmt.Errorf("market_open: %w", err)
	}
	ch, cm, err := parseClock(h.Close)
	if err != nil {
		return nil, fmt.Errorf("market_close: %w", err)
	}
	return &session{
		loc:    loc,
		openH:  oh,
		openM:  om,
		closeH: ch,
		closeM: cm,
		buffer: time.Duration(h.BufferMin) * time.Minute,
	}, nil
}

func parseClock(s string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%q is not HH:MM", s)
	}
	if hour, err = strconv.Atoi(hs); err != nil {
		return 0, 0, fmt.Errorf("%q is not HH:MM", s)
	}
	if minute, err = strconv.Atoi(ms); err != nil {
		return 0, 0, fmt.Errorf("%q is not HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%q out of range", s)
	}
	return hour, minute, nil
}
