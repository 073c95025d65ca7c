package indicators

import (
	"context"
	"errors"
	"fmt"

	"PaperTrade/internal/domain/models"
	domrepo "PaperTrade/internal/domain/repository"
	domsvc "PaperTrade/internal/domain/service"
)

var ErrNoATR = errors.New("indicators: atr unavailable")

// MarketATR reads ATR for stop placement from market data on a fixed timeframe.
type MarketATR struct {
	data      domrepo.MarketData
	analyzer  domsvc.Analyzer
	timeframe models.Timeframe
	params    models.IndicatorParams
}

// NewMarketATR creates an ATR provider.
func NewMarketATR(data domrepo.MarketData, analyzer domsvc.Analyzer, tf models.Timeframe, params models.IndicatorParams) *MarketATR {
	return &MarketATR{data: data, analyzer: analyzer, timeframe: models.NormalizeTimeframe(string(tf)), params: params}
}

var _ domsvc.ATRProvider = (*MarketATR)(nil)

func (m *MarketATR) ATR(ctx context.Context, symbol string) (float64, error) {
	series, err := m.data.GetMultiTimeframeData(ctx, symbol, []models.Timeframe{m.timeframe})
	if err != nil {
		return 0, fmt.Errorf("atr %s: %w", symbol, err)
	}
	r := m.analyzer.Analyze(series[m.timeframe], m.timeframe, m.params)
	if r.Insufficient || r.Volatility.ATR <= 0 {
		return 0, fmt.Errorf("%w: %s %s", ErrNoATR, symbol, m.timeframe)
	}
	return r.Volatility.ATR, nil
}
