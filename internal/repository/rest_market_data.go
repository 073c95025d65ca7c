package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"PaperTrade/internal/domain/models"
	"PaperTrade/internal/domain/repository"
	"PaperTrade/pkg/cache"
	xhttp "PaperTrade/pkg/http"
	applogger "PaperTrade/pkg/logger"
	"PaperTrade/pkg/util"

	"golang.org/x/time/rate"
)

var (
	ErrUnknownSymbol    = errors.New("unknown symbol")
	ErrMalformedCandles = errors.New("malformed candle payload")
)

// RestMarketDataConfig configures the REST market data source.
type RestMarketDataConfig struct {
	BaseURL     string
	CandleLimit int
	PriceTTL    time.Duration
	CandleTTL   time.Duration
	// RequestsPerSecond bounds outgoing calls; exchanges ban clients that exceed their weight budget.
	RequestsPerSecond float64
}

// RestMarketData serves klines and ticker prices from a Binance-compatible REST API,
// caching responses in a TTL cache.
type RestMarketData struct {
	cfg     RestMarketDataConfig
	client  *xhttp.Client
	cache   repository.TTLCache
	limiter *rate.Limiter
	metrics repository.Metrics
	l       *applogger.Logger
}

var _ repository.MarketData = (*RestMarketData)(nil)

// NewRestMarketData creates the market data source. ttl and metrics may be nil.
func NewRestMarketData(cfg RestMarketDataConfig, client *xhttp.Client, ttl repository.TTLCache, metrics repository.Metrics, l *applogger.Logger) *RestMarketData {
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 200
	}
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = 5 * time.Second
	}
	if cfg.CandleTTL <= 0 {
		cfg.CandleTTL = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if client == nil {
		client = xhttp.NewClient()
	}
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &RestMarketData{
		cfg:     cfg,
		client:  client,
		cache:   ttl,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		metrics: metrics,
		l:       l,
	}
}

// GetMultiTimeframeData fetches candles for every requested timeframe. Any failure fails the call.
func (m *RestMarketData) GetMultiTimeframeData(ctx context.Context, symbol string, tfs []models.Timeframe) (map[models.Timeframe][]models.Candle, error) {
	symbol = util.NormalizeSymbol(symbol)
	out := make(map[models.Timeframe][]models.Candle, len(tfs))
	for _, tf := range tfs {
		candles, err := m.candles(ctx, symbol, tf)
		if err != nil {
			return nil, err
		}
		out[tf] = candles
	}
	return out, nil
}

func (m *RestMarketData) candles(ctx context.Context, symbol string, tf models.Timeframe) ([]models.Candle, error) {
	key := cache.GenerateKeyWithParams("klines", symbol, tf)
	if m.cache != nil {
		var cached []models.Candle
		if err := m.cache.Get(ctx, key, &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	var raw [][]interface{}
	start := time.Now()
	err := m.get(ctx, "/api/v3/klines", map[string][]string{
		"symbol":   {symbol},
		"interval": {string(tf)},
		"limit":    {strconv.Itoa(m.cfg.CandleLimit)},
	}, &raw)
	m.metrics.RecordLatency("market_klines", time.Since(start).Seconds())
	if err != nil {
		m.metrics.RecordError("market_data")
		return nil, fmt.Errorf("klines %s %s: %w", symbol, tf, err)
	}

	candles, err := decodeKlines(raw)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, tf, err)
	}
	if m.cache != nil {
		if err := m.cache.Set(ctx, key, candles, m.cfg.CandleTTL); err != nil {
			m.l.Debug("kline cache write failed", applogger.String("key", key), applogger.Error(err))
		}
	}
	return candles, nil
}

// GetCurrentPrice returns the ticker price, served from cache while fresh.
func (m *RestMarketData) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = util.NormalizeSymbol(symbol)
	key := cache.GenerateKey("price", symbol)
	if m.cache != nil {
		var cached float64
		if err := m.cache.Get(ctx, key, &cached); err == nil && cached > 0 {
			return cached, nil
		}
	}

	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := m.get(ctx, "/api/v3/ticker/price", map[string][]string{"symbol": {symbol}}, &ticker); err != nil {
		m.metrics.RecordError("market_data")
		return 0, fmt.Errorf("price %s: %w", symbol, err)
	}
	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("price %s: %w", symbol, ErrUnknownSymbol)
	}
	m.metrics.RecordLastPrice(symbol, price)
	m.StorePrice(ctx, symbol, price)
	return price, nil
}

// StorePrice refreshes the cached price, letting live feeds short-circuit REST lookups.
func (m *RestMarketData) StorePrice(ctx context.Context, symbol string, price float64) {
	if m.cache == nil || price <= 0 {
		return
	}
	if err := m.cache.Set(ctx, cache.GenerateKey("price", util.NormalizeSymbol(symbol)), price, m.cfg.PriceTTL); err != nil {
		m.l.Debug("price cache write failed", applogger.String("symbol", symbol), applogger.Error(err))
	}
}

func (m *RestMarketData) get(ctx context.Context, path string, query map[string][]string, dest interface{}) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	err := m.client.GetJSON(ctx, strings.TrimRight(m.cfg.BaseURL, "/")+path, query, dest)
	var se *xhttp.StatusError
	if errors.As(err, &se) && se.Code == 400 {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, se.Body)
	}
	return err
}

// decodeKlines parses [openTime, open, high, low, close, volume, ...] rows.
func decodeKlines(raw [][]interface{}) ([]models.Candle, error) {
	out := make([]models.Candle, 0, len(raw))
	for i, row := range raw {
		if len(row) < 6 {
			return nil, fmt.Errorf("%w: row %d has %d fields", ErrMalformedCandles, i, len(row))
		}
		openTime, ok := row[0].(float64)
		if !ok {
			return nil, fmt.Errorf("%w: row %d open time", ErrMalformedCandles, i)
		}
		var vals [5]float64
		for j := range vals {
			v, err := toFloat(row[j+1])
			if err != nil {
				return nil, fmt.Errorf("%w: row %d field %d: %v", ErrMalformedCandles, i, j+1, err)
			}
			vals[j] = v
		}
		out = append(out, models.Candle{
			Timestamp: util.FromMillis(int64(openTime)),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return out, nil
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
