package cache

import (
	"fmt"
	"strings"
)

// GenerateKey joins prefix and id with a colon.
func GenerateKey(prefix string, id string) string {
	return prefix + ":" + id
}

// GenerateKeyWithParams joins prefix and every param with colons, e.g. klines:BTCUSDT:4h.
func GenerateKeyWithParams(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range params {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}
