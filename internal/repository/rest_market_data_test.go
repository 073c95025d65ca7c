package repository

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"PaperTrade/internal/domain/models"
	"PaperTrade/pkg/cache"
)

func newMarketServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v3/klines":
			if r.URL.Query().Get("symbol") != "BTCUSDT" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
				return
			}
			_, _ = w.Write([]byte(`[[1714521600000,"50000","50500","49800","50200","12.5",1714535999999],
[1714536000000,"50200","51000","50100","50900","8.25",1714550399999]]`))
		case "/api/v3/ticker/price":
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"50950.10"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestRestMarketDataCandles(t *testing.T) {
	var hits int32
	srv := newMarketServer(t, &hits)
	defer srv.Close()

	mc := cache.NewMemoryCache()
	defer mc.Close()
	md := NewRestMarketData(RestMarketDataConfig{BaseURL: srv.URL}, nil, mc, nil, nil)

	data, err := md.GetMultiTimeframeData(context.Background(), "btc/usdt", []models.Timeframe{models.TF4h})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got := data[models.TF4h]
	if len(got) != 2 || got[1].Close != 50900 || got[0].Volume != 12.5 {
		t.Fatalf("unexpected candles %+v", got)
	}
	if got[0].Timestamp.UnixMilli() != 1714521600000 {
		t.Fatalf("unexpected open time %v", got[0].Timestamp)
	}

	if _, err := md.GetMultiTimeframeData(context.Background(), "BTCUSDT", []models.Timeframe{models.TF4h}); err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected the second fetch to be served from cache, got %d hits", hits)
	}
}

func TestRestMarketDataUnknownSymbol(t *testing.T) {
	var hits int32
	srv := newMarketServer(t, &hits)
	defer srv.Close()

	md := NewRestMarketData(RestMarketDataConfig{BaseURL: srv.URL}, nil, nil, nil, nil)
	_, err := md.GetMultiTimeframeData(context.Background(), "NOPE", []models.Timeframe{models.TF1h})
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestRestMarketDataPriceCache(t *testing.T) {
	var hits int32
	srv := newMarketServer(t, &hits)
	defer srv.Close()

	mc := cache.NewMemoryCache()
	defer mc.Close()
	md := NewRestMarketData(RestMarketDataConfig{BaseURL: srv.URL}, nil, mc, nil, nil)

	md.StorePrice(context.Background(), "ETHUSDT", 3100)
	if p, err := md.GetCurrentPrice(context.Background(), "ETHUSDT"); err != nil || p != 3100 {
		t.Fatalf("expected cached 3100, got %v (%v)", p, err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("cached price must not hit the API")
	}
	if p, err := md.GetCurrentPrice(context.Background(), "BTCUSDT"); err != nil || p != 50950.10 {
		t.Fatalf("expected ticker price, got %v (%v)", p, err)
	}
}

func TestDecodeKlinesRejectsShortRows(t *testing.T) {
	if _, err := decodeKlines([][]interface{}{{1.0, "1"}}); !errors.Is(err, ErrMalformedCandles) {
		t.Fatalf("expected ErrMalformedCandles, got %v", err)
	}
}
