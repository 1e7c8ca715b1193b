package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"ltpbot/internal/application/service"
	"ltpbot/internal/domain/model"
)

// Sink plain-text output for the one-shot commands.
type Sink struct {
	w io.Writer
}

func NewSink(w io.Writer) *Sink {
	if w == nil {
		w = os.Stdout
	}
	return &Sink{w: w}
}

func (s *Sink) WriteStatus(st *service.Status) error {
	pos := "flat"
	if p := st.State.Position; p != nil {
		pos = fmt.Sprintf("%s qty=%d avg=%.2f", p.Symbol, p.Quantity, p.AvgPrice)
	}
	last := "-"
	if p := st.State.LastSellPrice; p != nil {
		last = fmt.Sprintf("%.2f", *p)
	}
	_, err := fmt.Fprintf(s.w,
		"position:        %s\nrealized_pnl:    %s\nlast_sell_price: %s\ntrades_today:    %d\nmax_qty:         %d\n",
		pos, st.State.TotalRealizedPnL.StringFixed(2), last, st.TradesToday, st.MaxQuantityPerTrade)
	return err
}

func (s *Sink) WriteQuote(symbol string, q service.Quote) error {
	_, err := fmt.Fprintf(s.w, "%s %.2f (%s %s)\n", symbol, q.Price, q.Source, q.Symbol)
	return err
}

func (s *Sink) WriteTrades(trades []*model.TradeRecord) error {
	if len(trades) == 0 {
		_, err := fmt.Fprintln(s.w, "no trades")
		return err
	}
	for _, t := range trades {
		line := fmt.Sprintf("%s %-4s %s qty=%d px=%.2f reason=%s",
			t.Timestamp.Local().Format(time.DateTime), t.Side, t.Symbol, t.Quantity, t.Price, t.Reason)
		if t.Side == model.SideSell {
			line += fmt.Sprintf(" pnl=%.2f", t.PnL)
		}
		if _, err := fmt.Fprintln(s.w, line); err != nil {
			return err
		}
	}
	return nil
}
