package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain"
	"ltpbot/internal/domain/model"
)

// DefaultCooldown how long a primary feed that came up empty is skipped.
const DefaultCooldown = 600 * time.Second

// SourceAuto routes through every feed in preference order.
const SourceAuto = "auto"

// QuoteRoute one feed in the preference list.
type QuoteRoute struct {
	Feed port.PriceFeed
	// CooldownOnMiss puts the feed under cooldown when none of its candidate
	// symbols produced a price.
	CooldownOnMiss bool
}

type QuoteRouterDeps struct {
	Routes    []QuoteRoute // preference order: general, venue, broker
	Cooldowns port.CooldownStore
	Cooldown  time.Duration
	Clock     port.Clock
	// Source "auto" or the name of the single feed to use.
	Source string
}

// Quote a routed price and where it came from.
type Quote struct {
	Price  float64
	Source string
	Symbol string
}

// QuoteRouter returns the first usable price across feeds, tracking a
// cooldown for a degraded primary feed. Cooldown markers are mirrored into a
// durable store so a restart keeps skipping a known-bad source.
type QuoteRouter struct {
	deps QuoteRouterDeps

	mu        sync.Mutex
	cooldowns map[string]time.Time
}

func NewQuoteRouter(deps QuoteRouterDeps) *QuoteRouter {
	if deps.Cooldown <= 0 {
		deps.Cooldown = DefaultCooldown
	}
	if strings.TrimSpace(deps.Source) == "" {
		deps.Source = SourceAuto
	}
	deps.Source = strings.ToLower(strings.TrimSpace(deps.Source))
	return &QuoteRouter{
		deps:      deps,
		cooldowns: make(map[string]time.Time),
	}
}

// Sources feed names in the order they are tried.
func (r *QuoteRouter) Sources() []string {
	out := make([]string, 0, len(r.deps.Routes))
	for _, rt := range r.routes() {
		out = append(out, rt.Feed.Name())
	}
	return out
}

// GetPrice fails with domain.ErrNoQuoteAvailable when every feed is exhausted.
func (r *QuoteRouter) GetPrice(ctx context.Context, inst model.Instrument, exchangeCode string) (Quote, error) {
	forced := r.deps.Source != SourceAuto
	for _, rt := range r.routes() {
		name := rt.Feed.Name()
		if !forced && r.onCooldown(ctx, name) {
			log.Debug().Str("source", name).Msg("source on cooldown, skipped")
			continue
		}

		if q, ok := r.tryFeed(ctx, rt.Feed, inst, exchangeCode); ok {
			return q, nil
		}

		if rt.CooldownOnMiss && !forced {
			r.setCooldown(ctx, name)
			log.Warn().
				Str("source", name).
				Dur("cooldown", r.deps.Cooldown).
				Msg("source unavailable, entering cooldown")
		}
	}
	return Quote{}, fmt.Errorf("%s: %w", inst.Display, domain.ErrNoQuoteAvailable)
}

func (r *QuoteRouter) routes() []QuoteRoute {
	if r.deps.Source == SourceAuto {
		return r.deps.Routes
	}
	for _, rt := range r.deps.Routes {
		if strings.EqualFold(rt.Feed.Name(), r.deps.Source) {
			return []QuoteRoute{rt}
		}
	}
	return nil
}

func (r *QuoteRouter) tryFeed(ctx context.Context, feed port.PriceFeed, inst model.Instrument, exchangeCode string) (Quote, bool) {
	candidates := []string{inst.Display}
	if res, ok := feed.(port.SymbolResolver); ok {
		candidates = res.CandidateSymbols(inst, exchangeCode)
	}
	for _, sym := range candidates {
		px, err := feed.GetPrice(ctx, sym, exchangeCode)
		if err != nil {
			if !errors.Is(err, domain.ErrPriceUnavailable) {
				log.Debug().Err(err).Str("source", feed.Name()).Str("symbol", sym).Msg("feed error")
			}
			continue
		}
		if !usablePrice(px) {
			continue
		}
		return Quote{Price: px, Source: feed.Name(), Symbol: sym}, true
	}
	return Quote{}, false
}

func usablePrice(px float64) bool {
	return px > 0 && !math.IsNaN(px) && !math.IsInf(px, 0)
}

func (r *QuoteRouter) onCooldown(ctx context.Context, source string) bool {
	now := r.deps.Clock.Now()

	r.mu.Lock()
	until, ok := r.cooldowns[source]
	r.mu.Unlock()
	if ok {
		return now.Before(until)
	}

	if r.deps.Cooldowns == nil {
		return false
	}
	until, ok, err := r.deps.Cooldowns.Until(ctx, source)
	if err != nil {
		log.Warn().Err(err).Str("source", source).Msg("read cooldown marker failed")
		return false
	}
	if !ok {
		return false
	}
	r.mu.Lock()
	r.cooldowns[source] = until
	r.mu.Unlock()
	return now.Before(until)
}

func (r *QuoteRouter) setCooldown(ctx context.Context, source string) {
	until := r.deps.Clock.Now().Add(r.deps.Cooldown)

	r.mu.Lock()
	r.cooldowns[source] = until
	r.mu.Unlock()

	if r.deps.Cooldowns == nil {
		return
	}
	if err := r.deps.Cooldowns.Set(ctx, source, until); err != nil {
		log.Warn().Err(err).Str("source", source).Msg("write cooldown marker failed")
	}
}
