package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"ltpbot/internal/application/port"
	"ltpbot/internal/domain"
	"ltpbot/internal/domain/model"
	"ltpbot/internal/infrastructure/feed"
)

const (
	NameREST = "rest"

	DefaultProduct  = "cash"
	DefaultValidity = "day"

	historyWindow = 15 * time.Minute
	tsLayout      = "2006-01-02T15:04:05.000Z"
)

var (
	quoteKeys   = []string{"ltp", "LTP", "last_traded_price"}
	historyKeys = []string{"close", "Close", "ltp", "LTP"}
)

// RESTOptions venue credentials and order defaults.
type RESTOptions struct {
	BaseURL      string
	APIKey       string
	APISecret    string
	SessionToken string
	Product      string
	Validity     string
	// ExchangeCode used for order detail lookups.
	ExchangeCode string
	Timeout      time.Duration
	Retries      int
}

// RESTBroker checksum-signed JSON REST venue client. Connect must succeed
// before any other call.
type RESTBroker struct {
	opts RESTOptions
	http *resty.Client
	now  func() time.Time

	// orders never retries: a resent POST /order is a second order.
	orders *resty.Client

	mu      sync.RWMutex
	session string
}

func NewRESTBroker(opts RESTOptions) *RESTBroker {
	if opts.Product == "" {
		opts.Product = DefaultProduct
	}
	if opts.Validity == "" {
		opts.Validity = DefaultValidity
	}
	if opts.ExchangeCode == "" {
		opts.ExchangeCode = "NSE"
	}
	return &RESTBroker{
		opts:   opts,
		http:   venueClient(opts.BaseURL, opts.Timeout, opts.Retries),
		orders: venueClient(opts.BaseURL, opts.Timeout, 0),
		now:    time.Now,
	}
}

func venueClient(baseURL string, timeout time.Duration, retries int) *resty.Client {
	return feed.NewHTTPClient(baseURL, timeout, retries).
		SetAllowGetMethodPayload(true).
		SetHeader("Content-Type", "application/json")
}

func (b *RESTBroker) Name() string { return NameREST }

// Connect exchanges the session token for an API session.
func (b *RESTBroker) Connect(ctx context.Context) error {
	key := strings.TrimSpace(b.opts.APIKey)
	secret := strings.TrimSpace(b.opts.APISecret)
	token := strings.TrimSpace(b.opts.SessionToken)
	if key == "" || secret == "" || token == "" {
		return fmt.Errorf("%w: broker api_key, api_secret and session_token are required", domain.ErrConfig)
	}

	payload, _ := json.Marshal(map[string]string{"SessionToken": token, "AppKey": key})
	resp, err := b.http.R().
		SetContext(ctx).
		SetBody(payload).
		Get("/customerdetails")
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("broker connect: http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	body, err := decodeBody(resp.Body())
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	if msg := responseError(body); msg != "" {
		return fmt.Errorf("broker connect: %s", msg)
	}
	row, ok := envelope(body)
	if !ok {
		return errors.New("broker connect: empty session response")
	}
	session := text(row["session_token"])
	if session == "" {
		return errors.New("broker connect: no session_token in response")
	}

	b.mu.Lock()
	b.session = session
	b.mu.Unlock()
	log.Info().Str("broker", b.Name()).Msg("broker session established")
	return nil
}

func (b *RESTBroker) checksum(ts string, body []byte) string {
	sum := sha256.Sum256([]byte(ts + string(body) + b.opts.APISecret))
	return hex.EncodeToString(sum[:])
}

// call sends a signed request through the retrying client and returns the
// decoded body.
func (b *RESTBroker) call(ctx context.Context, method, path string, payload any) ([]byte, map[string]any, error) {
	return b.send(ctx, b.http, method, path, payload)
}

func (b *RESTBroker) send(ctx context.Context, client *resty.Client, method, path string, payload any) ([]byte, map[string]any, error) {
	b.mu.RLock()
	session := b.session
	b.mu.RUnlock()
	if session == "" {
		return nil, nil, errors.New("broker not connected")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	ts := b.now().UTC().Format(tsLayout)
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("X-Checksum", "token "+b.checksum(ts, raw)).
		SetHeader("X-Timestamp", ts).
		SetHeader("X-AppKey", b.opts.APIKey).
		SetHeader("X-SessionToken", session).
		SetBody(raw).
		Execute(method, path)
	if err != nil {
		return nil, nil, err
	}
	if resp.IsError() {
		return resp.Body(), nil, fmt.Errorf("http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	body, err := decodeBody(resp.Body())
	if err != nil {
		return resp.Body(), nil, err
	}
	return resp.Body(), body, nil
}

// GetPrice tries cash quotes, then quotes without a product, then the close
// of the most recent 1-minute bar.
func (b *RESTBroker) GetPrice(ctx context.Context, code, exchangeCode string) (float64, error) {
	px, err := b.quote(ctx, code, exchangeCode, b.opts.Product)
	if err == nil {
		return px, nil
	}
	log.Debug().Str("code", code).Err(err).Msg("broker quotes failed")

	px, err = b.quote(ctx, code, exchangeCode, "")
	if err == nil {
		return px, nil
	}
	log.Debug().Str("code", code).Err(err).Msg("broker quotes without product failed")

	px, err = b.lastBar(ctx, code, exchangeCode)
	if err != nil {
		log.Debug().Str("code", code).Err(err).Msg("broker history failed")
		return 0, fmt.Errorf("broker %s: %w", code, domain.ErrPriceUnavailable)
	}
	return px, nil
}

func (b *RESTBroker) quote(ctx context.Context, code, exchangeCode, product string) (float64, error) {
	payload := map[string]string{
		"stock_code":    code,
		"exchange_code": exchangeCode,
	}
	if product != "" {
		payload["product_type"] = product
	}
	_, body, err := b.call(ctx, "GET", "/quotes", payload)
	if err != nil {
		return 0, err
	}
	data := rows(body)
	if len(data) == 0 {
		return 0, errors.New("empty quotes")
	}
	px, ok := feed.FirstNumber(data[0], quoteKeys...)
	if !ok {
		return 0, errors.New("no ltp in quotes")
	}
	return px, nil
}

func (b *RESTBroker) lastBar(ctx context.Context, code, exchangeCode string) (float64, error) {
	to := b.now().UTC()
	payload := map[string]string{
		"interval":      "1minute",
		"from_date":     to.Add(-historyWindow).Format(tsLayout),
		"to_date":       to.Format(tsLayout),
		"stock_code":    code,
		"exchange_code": exchangeCode,
		"product_type":  b.opts.Product,
	}
	_, body, err := b.call(ctx, "GET", "/historicalcharts", payload)
	if err != nil {
		return 0, err
	}
	data := rows(body)
	if len(data) == 0 {
		return 0, errors.New("empty history")
	}
	px, ok := feed.FirstNumber(data[len(data)-1], historyKeys...)
	if !ok {
		return 0, errors.New("no close in history")
	}
	return px, nil
}

func (b *RESTBroker) PlaceMarketOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error) {
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return nil, fmt.Errorf("invalid side %q: %w", req.Side, domain.ErrOrderExecution)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d: %w", req.Quantity, domain.ErrOrderExecution)
	}
	payload := map[string]string{
		"stock_code":    req.Code,
		"exchange_code": req.ExchangeCode,
		"product":       b.opts.Product,
		"action":        string(req.Side),
		"order_type":    "MARKET",
		"quantity":      strconv.Itoa(req.Quantity),
		"validity":      strings.ToUpper(b.opts.Validity),
	}
	if req.Tag != "" {
		payload["user_remark"] = req.Tag
	}

	raw, _, err := b.send(ctx, b.orders, "POST", "/order", payload)
	if err != nil {
		return nil, fmt.Errorf("place %s %s: %v: %w", req.Side, req.Code, err, domain.ErrOrderExecution)
	}
	res, err := NormalizeOrderResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("place %s %s: %v: %w", req.Side, req.Code, err, domain.ErrOrderExecution)
	}
	if !res.Filled {
		msg := "no order in response"
		if body, derr := decodeBody(raw); derr == nil {
			if e := responseError(body); e != "" {
				msg = e
			}
		}
		return res, fmt.Errorf("place %s %s: %s: %w", req.Side, req.Code, msg, domain.ErrOrderExecution)
	}
	return res, nil
}

func (b *RESTBroker) GetOrderStatus(ctx context.Context, orderID string) (json.RawMessage, error) {
	raw, _, err := b.call(ctx, "GET", "/order", map[string]string{
		"exchange_code": b.opts.ExchangeCode,
		"order_id":      orderID,
	})
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", orderID, err)
	}
	return json.RawMessage(raw), nil
}

var _ port.Broker = (*RESTBroker)(nil)
