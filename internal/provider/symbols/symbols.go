// Package symbols maps canonical tickers (BASE-QUOTE) to the identifiers each
// upstream source expects. Tables are maintained independently per source and
// need not cover the same tickers.
package symbols

import "cryptodesk/internal/provider"

// DefaultUniverse is the ticker set shown when the caller does not pick one.
var DefaultUniverse = []string{"BTC-USD", "ETH-USD", "SOL-USD", "BNB-USD", "XRP-USD", "ADA-USD", "DOGE-USD", "AVAX-USD"}

// Binance maps to USDT spot pairs.
var Binance = Map{
	"BTC-USD":  "BTCUSDT",
	"ETH-USD":  "ETHUSDT",
	"SOL-USD":  "SOLUSDT",
	"BNB-USD":  "BNBUSDT",
	"XRP-USD":  "XRPUSDT",
	"ADA-USD":  "ADAUSDT",
	"DOGE-USD": "DOGEUSDT",
	"AVAX-USD": "AVAXUSDT",
}

// CoinGecko maps to coin ids.
var CoinGecko = Map{
	"BTC-USD":  "bitcoin",
	"ETH-USD":  "ethereum",
	"SOL-USD":  "solana",
	"BNB-USD":  "binancecoin",
	"XRP-USD":  "ripple",
	"ADA-USD":  "cardano",
	"DOGE-USD": "dogecoin",
	"AVAX-USD": "avalanche-2",
}

// Yahoo uses the canonical form for crypto pairs.
var Yahoo = Map{
	"BTC-USD":  "BTC-USD",
	"ETH-USD":  "ETH-USD",
	"SOL-USD":  "SOL-USD",
	"BNB-USD":  "BNB-USD",
	"XRP-USD":  "XRP-USD",
	"ADA-USD":  "ADA-USD",
	"DOGE-USD": "DOGE-USD",
	"AVAX-USD": "AVAX-USD",
}

// Map is one source's canonical -> native table.
type Map map[string]string

// Lookup resolves ticker. Missing and blank entries are unmapped.
func (m Map) Lookup(ticker string) (string, bool) {
	native, ok := m[ticker]
	return native, ok && native != ""
}

// Table returns the static table for a source, or nil for Auto and unknown ids.
func Table(src provider.SourceID) Map {
	switch src {
	case provider.Binance:
		return Binance
	case provider.CoinGecko:
		return CoinGecko
	case provider.Yahoo:
		return Yahoo
	default:
		return nil
	}
}

// Merge returns a copy of base with overrides applied. An empty override value
// removes the ticker.
func Merge(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
