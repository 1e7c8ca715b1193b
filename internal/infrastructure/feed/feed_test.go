package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ltpbot/internal/domain"
	"ltpbot/internal/domain/model"
)

func TestYahooCandidates(t *testing.T) {
	cases := []struct {
		symbol, exchange string
		want             []string
	}{
		{"INFY", "NSE", []string{"INFY.NS", "INFY"}},
		{"infy", "bse", []string{"INFY.BO", "INFY"}},
		{"INFY", "NYSE", []string{"INFY", "INFY.NS"}},
		{"INFY.NS", "BSE", []string{"INFY.NS"}},
	}
	for _, c := range cases {
		if got := YahooCandidates(c.symbol, c.exchange); !reflect.DeepEqual(got, c.want) {
			t.Errorf("YahooCandidates(%s, %s) = %v, want %v", c.symbol, c.exchange, got, c.want)
		}
	}
}

func TestYahooFeedGetPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v8/finance/chart/INFY.NS":
			_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":1500.5},"indicators":{"quote":[{"close":[1499,null]}]}}],"error":null}}`))
		case "/v8/finance/chart/TCS.NS":
			_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{},"indicators":{"quote":[{"close":[3999,4001.25,null]}]}}],"error":null}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found"}}}`))
		}
	}))
	defer srv.Close()

	f := NewYahooFeed(NewHTTPClient(srv.URL, time.Second, 0))
	ctx := context.Background()

	if px, err := f.GetPrice(ctx, "INFY.NS", "NSE"); err != nil || px != 1500.5 {
		t.Errorf("expected 1500.5, got %v err=%v", px, err)
	}
	if px, err := f.GetPrice(ctx, "TCS.NS", "NSE"); err != nil || px != 4001.25 {
		t.Errorf("expected last close 4001.25, got %v err=%v", px, err)
	}
	if _, err := f.GetPrice(ctx, "NOPE", "NSE"); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestNSEFeedPrimesCookies(t *testing.T) {
	var primed int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			atomic.AddInt32(&primed, 1)
			http.SetCookie(w, &http.Cookie{Name: "nsit", Value: "abc", Path: "/"})
			_, _ = w.Write([]byte("<html></html>"))
		case "/api/quote-equity":
			if c, err := r.Cookie("nsit"); err != nil || c.Value != "abc" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if r.URL.Query().Get("symbol") != "INFY" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"info":{"symbol":"INFY"},"priceInfo":{"lastPrice":1502.35}}`))
		}
	}))
	defer srv.Close()

	f := NewNSEFeed(NewHTTPClient(srv.URL, time.Second, 0))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		px, err := f.GetPrice(ctx, "infy", "NSE")
		if err != nil {
			t.Fatalf("GetPrice failed: %v", err)
		}
		if px != 1502.35 {
			t.Errorf("expected 1502.35, got %v", px)
		}
	}
	if n := atomic.LoadInt32(&primed); n != 1 {
		t.Errorf("expected one priming request, got %d", n)
	}
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":10}}]}}`))
	}))
	defer srv.Close()

	f := NewYahooFeed(NewHTTPClient(srv.URL, time.Second, 1))
	px, err := f.GetPrice(context.Background(), "X.NS", "NSE")
	if err != nil || px != 10 {
		t.Fatalf("expected 10 after retry, got %v err=%v", px, err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("expected 2 calls, got %d", n)
	}
}

func TestStreamFeedCachesTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub streamSubscribe
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		for _, s := range sub.Symbols {
			_ = conn.WriteJSON(map[string]any{"symbol": s, "ltp": "1503.10"})
		}
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	f := NewStreamFeed("ws"+strings.TrimPrefix(srv.URL, "http"), time.Minute)
	defer f.Close()
	f.Subscribe("INFY")

	deadline := time.Now().Add(3 * time.Second)
	for {
		px, err := f.GetPrice(context.Background(), "INFY", "NSE")
		if err == nil {
			if px != 1503.10 {
				t.Fatalf("expected 1503.10, got %v", px)
			}
			break
		}
		if !errors.Is(err, domain.ErrPriceUnavailable) {
			t.Fatalf("unexpected error %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("no tick received")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStreamFeedStalePrice(t *testing.T) {
	f := NewStreamFeed("ws://127.0.0.1:1", time.Second)
	defer f.Close()
	f.prices["INFY"] = streamPrice{price: 100, at: time.Now().Add(-time.Minute)}
	f.symbols["INFY"] = struct{}{}

	if _, err := f.GetPrice(context.Background(), "INFY", "NSE"); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Errorf("stale tick should be unavailable, got %v", err)
	}
}

type quoteBroker struct {
	codes []string
}

func (b *quoteBroker) Name() string                      { return "fake" }
func (b *quoteBroker) Connect(ctx context.Context) error { return nil }

func (b *quoteBroker) GetPrice(ctx context.Context, code, exchangeCode string) (float64, error) {
	b.codes = append(b.codes, code)
	return 42, nil
}

func (b *quoteBroker) PlaceMarketOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error) {
	return nil, domain.ErrOrderExecution
}

func (b *quoteBroker) GetOrderStatus(ctx context.Context, orderID string) (json.RawMessage, error) {
	return nil, nil
}

func TestBrokerFeedUsesVenueCode(t *testing.T) {
	b := &quoteBroker{}
	f := NewBrokerFeed(b)
	inst := model.Instrument{Display: "INFY", VenueCode: "INFTEC"}
	syms := f.CandidateSymbols(inst, "NSE")
	if !reflect.DeepEqual(syms, []string{"INFTEC"}) {
		t.Fatalf("unexpected candidates %v", syms)
	}
	px, err := f.GetPrice(context.Background(), syms[0], "NSE")
	if err != nil || px != 42 {
		t.Fatalf("expected 42, got %v err=%v", px, err)
	}
	if len(b.codes) != 1 || b.codes[0] != "INFTEC" {
		t.Errorf("broker asked for %v", b.codes)
	}
}

func TestNumber(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{1500.5, 1500.5, true},
		{"1,502.35", 1502.35, true},
		{"", 0, false},
		{0.0, 0, false},
		{-1.0, 0, false},
		{nil, 0, false},
	}
	for _, c := range cases {
		got, ok := Number(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("Number(%v) = %v, %v; want %v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}
