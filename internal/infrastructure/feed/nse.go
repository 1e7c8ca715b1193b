package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain"
)

const NameNSE = "nse"

func init() {
	Register(NameNSE, func(opts Options) (port.PriceFeed, error) {
		return NewNSEFeed(NewHTTPClient(opts.BaseURL, opts.Timeout, opts.Retries)), nil
	})
}

// NSEFeed venue quote page. The API refuses requests without the cookies
// set by the site root, so the first call primes the session.
type NSEFeed struct {
	http *resty.Client

	mu     sync.Mutex
	primed bool
}

func NewNSEFeed(client *resty.Client) *NSEFeed {
	client.
		SetHeader("Accept", "*/*").
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		SetHeader("Connection", "keep-alive").
		SetHeader("Referer", client.BaseURL+"/")
	return &NSEFeed{http: client}
}

func (f *NSEFeed) Name() string { return NameNSE }

func (f *NSEFeed) prime(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.primed {
		return
	}
	resp, err := f.http.R().SetContext(ctx).Get("/")
	if err != nil {
		log.Debug().Err(err).Msg("nse cookie priming failed")
		return
	}
	if resp.IsError() {
		log.Debug().Int("status", resp.StatusCode()).Msg("nse cookie priming failed")
		return
	}
	f.primed = true
}

type nseQuote struct {
	PriceInfo map[string]any `json:"priceInfo"`
}

func (f *NSEFeed) GetPrice(ctx context.Context, symbol, exchangeCode string) (float64, error) {
	f.prime(ctx)

	sym := strings.ToUpper(strings.TrimSpace(symbol))
	var out nseQuote
	resp, err := f.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", sym).
		SetResult(&out).
		ForceContentType("application/json").
		Get("/api/quote-equity")
	if err != nil {
		return 0, fmt.Errorf("nse %s: %v: %w", sym, err, domain.ErrPriceUnavailable)
	}
	if resp.StatusCode() != 200 {
		if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
			// cookies expired
			f.mu.Lock()
			f.primed = false
			f.mu.Unlock()
		}
		return 0, fmt.Errorf("nse %s: http %d: %w", sym, resp.StatusCode(), domain.ErrPriceUnavailable)
	}
	if px, ok := FirstNumber(out.PriceInfo, "lastPrice"); ok {
		return px, nil
	}
	return 0, fmt.Errorf("nse %s: no lastPrice: %w", sym, domain.ErrPriceUnavailable)
}

var _ port.PriceFeed = (*NSEFeed)(nil)
