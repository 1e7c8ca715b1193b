package feed

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 3

	retryWait    = 600 * time.Millisecond
	retryMaxWait = 5 * time.Second

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// NewHTTPClient resty client retrying transport errors, 429 and 5xx with
// exponential backoff.
func NewHTTPClient(baseURL string, timeout time.Duration, retries int) *resty.Client {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retries < 0 {
		retries = DefaultRetries
	}
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(retryWait).
		SetRetryMaxWaitTime(retryMaxWait).
		SetHeader("User-Agent", userAgent).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := resp.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})
}

// Number reads a price that may arrive as a JSON number or numeric string.
// Zero, negative and non-finite values are rejected.
func Number(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", ""), 64)
		if err != nil {
			return 0, false
		}
		f = n
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	default:
		return 0, false
	}
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FirstNumber the first key of row holding a usable price.
func FirstNumber(row map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := row[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := Number(v); ok {
			return f, true
		}
	}
	return 0, false
}
