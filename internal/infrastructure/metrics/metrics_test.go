package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"ltpbot/internal/domain/model"
)

// value sums every sample of the named family.
func value(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return sum
}

func TestMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTick("no_quote")
	m.ObserveTick("no_quote")
	m.ObserveOrder(model.SideBuy, "ok")
	m.ObserveExit(model.ReasonStopLoss)
	m.SetRealizedPnL(-2.5)
	m.SetPositionOpen(true)

	if got := value(t, reg, "ltpbot_ticks_total"); got != 2 {
		t.Errorf("expected 2 ticks, got %v", got)
	}
	if got := value(t, reg, "ltpbot_orders_total"); got != 1 {
		t.Errorf("expected 1 order, got %v", got)
	}
	if got := value(t, reg, "ltpbot_realized_pnl"); got != -2.5 {
		t.Errorf("expected pnl -2.5, got %v", got)
	}
	if got := value(t, reg, "ltpbot_position_open"); got != 1 {
		t.Errorf("expected position gauge 1, got %v", got)
	}
}
