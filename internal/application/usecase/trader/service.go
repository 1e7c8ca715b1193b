package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"ltpbot/internal/application/container"
	"ltpbot/internal/application/port"
	"ltpbot/internal/application/service"
	"ltpbot/internal/domain"
	"ltpbot/internal/domain/model"
	domainsvc "ltpbot/internal/domain/service"
)

// Outcome what a single tick ended with.
type Outcome string

const (
	OutcomeNoQuote      Outcome = "no_quote"
	OutcomeMarketClosed Outcome = "market_closed"
	OutcomeWarmup       Outcome = "warmup"
	OutcomeIdle         Outcome = "idle"
	OutcomeBought       Outcome = "bought"
	OutcomeHolding      Outcome = "holding"
	OutcomeSold         Outcome = "sold"
	OutcomeOrderFailed  Outcome = "order_failed"
	OutcomeError        Outcome = "error"
)

type ServiceDeps struct {
	// Services supplies Store, Repo and the journal services when set.
	Services   *container.Container
	Router     *service.QuoteRouter
	Rules      *domainsvc.RuleEngine
	Store      port.StateStore
	Broker     port.Broker
	Repo       port.Repository
	Metrics    port.Metrics
	Clock      port.Clock
	Instrument model.Instrument
}

// Service the decision loop for one instrument. Ticks are sequential; the
// service is not safe for concurrent Tick calls.
type Service struct {
	deps ServiceDeps
	cfg  domainsvc.RuleConfig

	prices  *service.PriceService
	signals *service.SignalService
	trades  *service.TradeService

	immediateBought bool

	// unbooked is an executed sell whose state write failed.
	unbooked *closedTrade
}

type closedTrade struct {
	pos      model.Position
	ltp      float64
	pnl      decimal.Decimal
	lastSell *float64
	reason   string
	orderID  string
}

func NewService(deps ServiceDeps) *Service {
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if c := deps.Services; c != nil {
		deps.Store = c.Store()
		deps.Repo = c.Repository()
		return &Service{
			deps:    deps,
			cfg:     deps.Rules.Config(),
			prices:  c.PriceService(),
			signals: c.SignalService(),
			trades:  c.TradeService(),
		}
	}
	if deps.Repo == nil {
		deps.Repo = NewNoopRepo()
	}
	return &Service{
		deps:    deps,
		cfg:     deps.Rules.Config(),
		prices:  service.NewPriceService(deps.Repo),
		signals: service.NewSignalService(deps.Repo),
		trades:  service.NewTradeService(deps.Repo),
	}
}

// Tick runs one poll cycle. Errors are logged here and never returned.
func (s *Service) Tick(ctx context.Context) Outcome {
	out := s.tick(ctx)
	s.deps.Metrics.ObserveTick(string(out))
	return out
}

func (s *Service) tick(ctx context.Context) Outcome {
	sym := s.deps.Instrument.Display

	if s.unbooked != nil {
		if err := s.settle(ctx); err != nil {
			log.Error().Err(err).Str("symbol", sym).Msg("book sell failed")
			return OutcomeError
		}
	}

	pos, err := s.deps.Store.GetPosition(ctx)
	if err != nil {
		log.Error().Err(err).Str("symbol", sym).Msg("read position failed")
		return OutcomeError
	}
	s.deps.Metrics.SetPositionOpen(pos != nil)

	q, err := s.route(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoQuoteAvailable) {
			log.Warn().Str("symbol", sym).Msg("no quote available")
			return OutcomeNoQuote
		}
		log.Error().Err(err).Str("symbol", sym).Msg("quote failed")
		return OutcomeError
	}
	s.deps.Metrics.ObserveQuote(q.Source)

	now := s.deps.Clock.Now()
	if err := s.prices.UpdatePrice(ctx, q.Source, q.Symbol, q.Price, now.UnixMilli()); err != nil {
		log.Debug().Err(err).Msg("journal price failed")
	}

	if !s.deps.Rules.IsMarketOpen(now) {
		log.Debug().Str("symbol", sym).Float64("ltp", q.Price).Msg("market closed")
		return OutcomeMarketClosed
	}

	if pos == nil {
		return s.tickIdle(ctx, now, q)
	}
	return s.tickHolding(ctx, q, pos)
}

func (s *Service) tickIdle(ctx context.Context, now time.Time, q service.Quote) Outcome {
	sym := s.deps.Instrument.Display
	ltp := q.Price

	last, err := s.deps.Store.GetLastSellPrice(ctx)
	if err != nil {
		log.Error().Err(err).Str("symbol", sym).Msg("read last sell price failed")
		return OutcomeError
	}

	var reason string
	switch {
	case last != nil && ltp < *last:
		reason = model.ReasonReentry
		log.Info().Str("symbol", sym).Float64("ltp", ltp).Float64("last_sell", *last).Msg("re-entry below last sell")
	case s.cfg.BuyImmediateOnStart && !s.immediateBought:
		reason = model.ReasonImmediate
	default:
		s.deps.Rules.UpdatePrice(ltp)
		d := s.deps.Rules.EvaluateBuy(now, ltp)
		log.Debug().
			Str("symbol", sym).
			Float64("ltp", ltp).
			Str("mode", string(d.Mode)).
			Float64("high", d.High).
			Float64("drop_abs", d.DropAbs).
			Float64("drop_pct", d.DropPct).
			Float64("sma", d.SMA).
			Float64("gap", d.Gap).
			Bool("signal", d.Signal).
			Msg("buy rules")
		if !d.Signal {
			if d.Skipped == "warmup" || d.Skipped == "sma_warmup" {
				log.Info().
					Str("symbol", sym).
					Int("samples", s.deps.Rules.Samples()).
					Int("need", s.cfg.MinWarmupSamples).
					Msg("warming up price window")
				return OutcomeWarmup
			}
			return OutcomeIdle
		}
		reason = model.ReasonRule
	}

	if err := s.buy(ctx, ltp, reason); err != nil {
		log.Error().Err(err).Str("symbol", sym).Float64("ltp", ltp).Str("reason", reason).Msg("buy failed")
		if errors.Is(err, domain.ErrOrderExecution) {
			return OutcomeOrderFailed
		}
		return OutcomeError
	}
	s.immediateBought = true
	return OutcomeBought
}

func (s *Service) tickHolding(ctx context.Context, q service.Quote, pos *model.Position) Outcome {
	d := s.deps.Rules.EvaluateSell(q.Price, pos.AvgPrice)
	log.Debug().
		Str("symbol", pos.Symbol).
		Float64("ltp", q.Price).
		Float64("avg", pos.AvgPrice).
		Float64("pnl", d.PnLAbs).
		Float64("pnl_pct", d.PnLPct).
		Str("reason", d.Reason).
		Msg("sell rules")
	if !d.Signal {
		return OutcomeHolding
	}

	if err := s.sell(ctx, pos, q.Price, d.Reason); err != nil {
		log.Error().Err(err).Str("symbol", pos.Symbol).Float64("ltp", q.Price).Str("reason", d.Reason).Msg("sell failed")
		if errors.Is(err, domain.ErrOrderExecution) {
			return OutcomeOrderFailed
		}
		return OutcomeError
	}
	return OutcomeSold
}

func (s *Service) buy(ctx context.Context, ltp float64, reason string) error {
	inst := s.deps.Instrument
	qty := s.cfg.Quantity

	res, err := s.deps.Broker.PlaceMarketOrder(ctx, model.OrderRequest{
		Code:         inst.VenueCode,
		ExchangeCode: s.cfg.ExchangeCode,
		Side:         model.SideBuy,
		Quantity:     qty,
		Tag:          orderTag(),
	})
	if err != nil {
		s.deps.Metrics.ObserveOrder(model.SideBuy, "failed")
		return fmt.Errorf("place buy: %w", err)
	}
	s.deps.Metrics.ObserveOrder(model.SideBuy, "ok")

	fill := res.FillPrice(ltp)
	if err := s.deps.Store.OpenPosition(ctx, inst.Display, qty, fill); err != nil {
		return fmt.Errorf("open position: %w", err)
	}
	s.deps.Metrics.SetPositionOpen(true)

	log.Info().
		Str("symbol", inst.Display).
		Int("qty", qty).
		Float64("ltp", ltp).
		Float64("fill", fill).
		Str("reason", reason).
		Str("order_id", res.OrderID).
		Msg("bought")

	s.journal(ctx, &model.TradeRecord{
		Symbol:   inst.Display,
		Side:     model.SideBuy,
		Quantity: qty,
		Price:    fill,
		Reason:   reason,
		OrderID:  res.OrderID,
	})
	return nil
}

// sell closes pos at ltp. A ltp <= 0 means no price was observed: the trade
// is booked at zero P&L and no last sell price is kept.
func (s *Service) sell(ctx context.Context, pos *model.Position, ltp float64, reason string) error {
	res, err := s.deps.Broker.PlaceMarketOrder(ctx, model.OrderRequest{
		Code:         s.deps.Instrument.VenueCode,
		ExchangeCode: s.cfg.ExchangeCode,
		Side:         model.SideSell,
		Quantity:     pos.Quantity,
		Tag:          orderTag(),
	})
	if err != nil {
		s.deps.Metrics.ObserveOrder(model.SideSell, "failed")
		return fmt.Errorf("place sell: %w", err)
	}
	s.deps.Metrics.ObserveOrder(model.SideSell, "ok")

	ct := &closedTrade{pos: *pos, ltp: ltp, pnl: decimal.Zero, reason: reason, orderID: res.OrderID}
	if ltp > 0 {
		ct.pnl = model.TradePnL(pos.AvgPrice, ltp, pos.Quantity)
		px := ltp
		ct.lastSell = &px
	}

	// the venue has executed: a failed write is retried by the next tick
	// without another order
	s.unbooked = ct
	return s.settle(ctx)
}

// settle books the unbooked sell in one store write.
func (s *Service) settle(ctx context.Context) error {
	ct := s.unbooked
	total, count, err := s.deps.Store.CloseTrade(ctx, ct.pnl, ct.lastSell)
	if errors.Is(err, domain.ErrNoPosition) {
		log.Warn().Str("symbol", ct.pos.Symbol).Str("order_id", ct.orderID).Msg("sell not booked: position already closed")
		s.unbooked = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("book sell %s: %w", ct.orderID, err)
	}
	s.unbooked = nil

	s.deps.Metrics.SetPositionOpen(false)
	s.deps.Metrics.SetRealizedPnL(total.InexactFloat64())
	s.deps.Metrics.ObserveExit(ct.reason)

	log.Info().
		Str("symbol", ct.pos.Symbol).
		Int("qty", ct.pos.Quantity).
		Float64("ltp", ct.ltp).
		Float64("avg", ct.pos.AvgPrice).
		Str("pnl", ct.pnl.String()).
		Str("total_pnl", total.String()).
		Int("trades_today", count).
		Str("reason", ct.reason).
		Str("order_id", ct.orderID).
		Msg("sold")

	s.journal(ctx, &model.TradeRecord{
		Symbol:   ct.pos.Symbol,
		Side:     model.SideSell,
		Quantity: ct.pos.Quantity,
		Price:    ct.ltp,
		PnL:      ct.pnl.InexactFloat64(),
		Reason:   ct.reason,
		OrderID:  ct.orderID,
	})
	return nil
}

// Flatten sells the open position now, regardless of the exit rules.
func (s *Service) Flatten(ctx context.Context) error {
	if s.unbooked != nil {
		if err := s.settle(ctx); err != nil {
			return err
		}
	}
	pos, err := s.deps.Store.GetPosition(ctx)
	if err != nil {
		return err
	}
	if pos == nil {
		return domain.ErrNoPosition
	}
	if !s.deps.Rules.IsMarketOpen(s.deps.Clock.Now()) {
		return domain.ErrMarketClosed
	}

	var ltp float64
	q, err := s.route(ctx)
	if err != nil {
		log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("flatten without a quote")
	} else {
		ltp = q.Price
	}

	return s.sell(ctx, pos, ltp, model.ReasonFlatten)
}

// Quote the routed price for the configured instrument.
func (s *Service) Quote(ctx context.Context) (service.Quote, error) {
	return s.route(ctx)
}

// route asks the router for a quote and passes it on to a simulated venue.
func (s *Service) route(ctx context.Context) (service.Quote, error) {
	q, err := s.deps.Router.GetPrice(ctx, s.deps.Instrument, s.cfg.ExchangeCode)
	if err != nil {
		return q, err
	}
	if o, ok := s.deps.Broker.(port.PriceObserver); ok {
		o.ObservePrice(s.deps.Instrument.VenueCode, q.Price)
	}
	return q, nil
}

func (s *Service) journal(ctx context.Context, tr *model.TradeRecord) {
	tr.Timestamp = s.deps.Clock.Now().UTC()
	if err := s.trades.RecordTrade(ctx, tr); err != nil {
		log.Warn().Err(err).Str("symbol", tr.Symbol).Msg("journal trade failed")
	}
	if err := s.signals.CreateSignal(ctx, tr.Timestamp.UnixMilli(), tr.Symbol, tr.Side, tr.Reason, tr.Price); err != nil {
		log.Warn().Err(err).Str("symbol", tr.Symbol).Msg("journal signal failed")
	}
}

func orderTag() string {
	return "ltpbot-" + uuid.NewString()[:8]
}
