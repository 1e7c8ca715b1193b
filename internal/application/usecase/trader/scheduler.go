package trader

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Run ticks at the poll interval until ctx is cancelled. A tick in progress
// when ctx is cancelled runs to completion. A state read failure at startup
// is logged; every tick reads the state again.
func (s *Service) Run(ctx context.Context) error {
	ev := log.Info().
		Str("symbol", s.deps.Instrument.Display).
		Str("venue_code", s.deps.Instrument.VenueCode).
		Str("exchange", s.cfg.ExchangeCode).
		Int("qty", s.cfg.Quantity).
		Dur("poll", s.cfg.PollInterval).
		Str("buy_mode", string(s.cfg.BuyMode)).
		Strs("sources", s.deps.Router.Sources())
	st, err := s.deps.Store.Snapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Str("symbol", s.deps.Instrument.Display).Msg("read state failed at startup")
	} else {
		ev = ev.Str("total_pnl", st.TotalRealizedPnL.String())
		if st.Position != nil {
			ev = ev.Float64("avg", st.Position.AvgPrice).Int("held", st.Position.Quantity)
		}
		s.deps.Metrics.SetRealizedPnL(st.TotalRealizedPnL.InexactFloat64())
		s.deps.Metrics.SetPositionOpen(st.Position != nil)
	}
	ev.Msg("trader started")
	if err := s.deps.Rules.HoursError(); err != nil {
		log.Warn().Err(err).Msg("trading hours invalid, market treated as open")
	}

	tickCtx := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		s.Tick(tickCtx)

		select {
		case <-ctx.Done():
		case <-s.deps.Clock.After(s.cfg.PollInterval):
		}
	}

	log.Info().Str("symbol", s.deps.Instrument.Display).Msg("trader stopped")
	return ctx.Err()
}
