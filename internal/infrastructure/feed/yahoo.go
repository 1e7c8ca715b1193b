package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain"
	"ltpbot/internal/domain/model"
)

const NameYahoo = "yahoo"

func init() {
	Register(NameYahoo, func(opts Options) (port.PriceFeed, error) {
		return NewYahooFeed(NewHTTPClient(opts.BaseURL, opts.Timeout, opts.Retries)), nil
	})
}

// YahooFeed general market-data feed over the public chart endpoint.
type YahooFeed struct {
	http *resty.Client
}

func NewYahooFeed(client *resty.Client) *YahooFeed {
	return &YahooFeed{http: client}
}

func (f *YahooFeed) Name() string { return NameYahoo }

// CandidateSymbols a ticker with a suffix is used as-is; otherwise the
// exchange suffix is tried first.
func (f *YahooFeed) CandidateSymbols(inst model.Instrument, exchangeCode string) []string {
	return YahooCandidates(inst.Display, exchangeCode)
}

func YahooCandidates(symbol, exchangeCode string) []string {
	if strings.Contains(symbol, ".") {
		return []string{symbol}
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	switch strings.ToUpper(exchangeCode) {
	case "NSE":
		return []string{sym + ".NS", sym}
	case "BSE":
		return []string{sym + ".BO", sym}
	default:
		return []string{sym, sym + ".NS"}
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error json.RawMessage `json:"error"`
	} `json:"chart"`
}

var chartWindows = []struct{ rng, interval string }{
	{"1d", "1m"},
	{"5d", "5m"},
}

func (f *YahooFeed) GetPrice(ctx context.Context, symbol, exchangeCode string) (float64, error) {
	var lastErr error
	for _, w := range chartWindows {
		px, err := f.chart(ctx, symbol, w.rng, w.interval)
		if err == nil {
			return px, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func (f *YahooFeed) chart(ctx context.Context, symbol, rng, interval string) (float64, error) {
	var out chartResponse
	resp, err := f.http.R().
		SetContext(ctx).
		SetQueryParam("range", rng).
		SetQueryParam("interval", interval).
		SetResult(&out).
		Get("/v8/finance/chart/" + url.PathEscape(symbol))
	if err != nil {
		return 0, fmt.Errorf("yahoo %s: %v: %w", symbol, err, domain.ErrPriceUnavailable)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("yahoo %s: http %d: %w", symbol, resp.StatusCode(), domain.ErrPriceUnavailable)
	}
	if len(out.Chart.Result) == 0 {
		return 0, fmt.Errorf("yahoo %s: empty chart: %w", symbol, domain.ErrPriceUnavailable)
	}

	res := out.Chart.Result[0]
	if p := res.Meta.RegularMarketPrice; p != nil {
		if px, ok := Number(*p); ok {
			return px, nil
		}
	}
	// last non-null close
	for _, q := range res.Indicators.Quote {
		for i := len(q.Close) - 1; i >= 0; i-- {
			if q.Close[i] == nil {
				continue
			}
			if px, ok := Number(*q.Close[i]); ok {
				return px, nil
			}
		}
	}
	return 0, fmt.Errorf("yahoo %s: no price in chart: %w", symbol, domain.ErrPriceUnavailable)
}

var (
	_ port.PriceFeed      = (*YahooFeed)(nil)
	_ port.SymbolResolver = (*YahooFeed)(nil)
)
