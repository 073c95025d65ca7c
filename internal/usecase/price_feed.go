package usecase

import (
	"context"
	"fmt"

	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"
	"PaperTrade/pkg/util"
)

// Marker receives feed prices. The execution engine uses them as a fallback mark.
type Marker interface {
	Mark(symbol string, price float64)
}

// PriceStore caches the latest price for REST lookups.
type PriceStore interface {
	StorePrice(ctx context.Context, symbol string, price float64)
}

// PriceFeed applies live ticks to the engine.
type PriceFeed struct {
	marker  Marker
	store   PriceStore
	metrics domrepo.Metrics
}

// NewPriceFeed creates a PriceFeed. store and metrics may be nil.
func NewPriceFeed(marker Marker, store PriceStore, metrics domrepo.Metrics) *PriceFeed {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	return &PriceFeed{marker: marker, store: store, metrics: metrics}
}

func (f *PriceFeed) Process(ctx context.Context, t *models.Tick) error {
	if t == nil || t.Price <= 0 {
		return fmt.Errorf("price feed: invalid tick")
	}
	sym := util.NormalizeSymbol(t.Symbol)
	f.marker.Mark(sym, t.Price)
	if f.store != nil {
		f.store.StorePrice(ctx, sym, t.Price)
	}
	f.metrics.RecordLastPrice(sym, t.Price)
	return nil
}
