package util

import "strings"

var symbolSeparators = strings.NewReplacer("/", "", "-", "", "_", "")

// NormalizeSymbol upper-cases a trading symbol and strips separators ("btc/usdt" -> "BTCUSDT").
func NormalizeSymbol(s string) string {
	return symbolSeparators.Replace(strings.ToUpper(strings.TrimSpace(s)))
}
