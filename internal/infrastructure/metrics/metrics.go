package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain/model"
)

type Metrics struct {
	ticks       *prometheus.CounterVec
	orders      *prometheus.CounterVec
	exits       *prometheus.CounterVec
	quotes      *prometheus.CounterVec
	realizedPnL prometheus.Gauge
	position    prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ltpbot_ticks_total",
				Help: "Decision loop ticks by outcome",
			},
			[]string{"outcome"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ltpbot_orders_total",
				Help: "Market orders sent to the broker",
			},
			[]string{"side", "result"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ltpbot_exits_total",
				Help: "Closed positions by exit reason",
			},
			[]string{"reason"},
		),
		quotes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ltpbot_quote_source_total",
				Help: "Routed quotes by the feed that served them",
			},
			[]string{"source"},
		),
		realizedPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ltpbot_realized_pnl",
				Help: "Total realized profit and loss",
			},
		),
		position: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ltpbot_position_open",
				Help: "1 while a position is held",
			},
		),
	}
	reg.MustRegister(m.ticks, m.orders, m.exits, m.quotes, m.realizedPnL, m.position)
	return m
}

func (m *Metrics) ObserveTick(outcome string) { m.ticks.WithLabelValues(outcome).Inc() }

func (m *Metrics) ObserveOrder(side model.Side, result string) {
	m.orders.WithLabelValues(string(side), result).Inc()
}

func (m *Metrics) ObserveExit(reason string)    { m.exits.WithLabelValues(reason).Inc() }
func (m *Metrics) ObserveQuote(source string)   { m.quotes.WithLabelValues(source).Inc() }
func (m *Metrics) SetRealizedPnL(total float64) { m.realizedPnL.Set(total) }

func (m *Metrics) SetPositionOpen(open bool) {
	if open {
		m.position.Set(1)
		return
	}
	m.position.Set(0)
}

var _ port.Metrics = (*Metrics)(nil)

// Serve exposes /metrics and /healthz on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
