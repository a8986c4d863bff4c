package analytics

import (
	"github.com/volatiletech/null"

	"cryptodesk/internal/provider"
)

// LastPriceAndChange returns the latest valid close and its percent change
// from the previous valid close. ok is false with fewer than two valid closes.
func LastPriceAndChange(values []null.Float64) (price, changePct float64, ok bool) {
	last, prev := -1, -1
	for i := len(values) - 1; i >= 0 && prev < 0; i-- {
		if !values[i].Valid {
			continue
		}
		if last < 0 {
			last = i
		} else {
			prev = i
		}
	}
	if prev < 0 || values[prev].Float64 == 0 {
		return 0, 0, false
	}
	price = values[last].Float64
	return price, (price/values[prev].Float64 - 1) * 100, true
}

// Quote is one entry of the live tape. Fields are invalid when the ticker has
// too little history.
type Quote struct {
	Ticker    string       `json:"ticker"`
	Price     null.Float64 `json:"price"`
	ChangePct null.Float64 `json:"change_pct"`
}

// Tape computes a Quote for every requested ticker, in order. Tickers with no
// column in tbl are included with invalid fields.
func Tape(tbl *provider.Table, tickers []string) []Quote {
	out := make([]Quote, 0, len(tickers))
	for _, tk := range tickers {
		q := Quote{Ticker: tk}
		if col, found := tbl.Column(tk); found {
			if px, chg, ok := LastPriceAndChange(col.Values); ok {
				q.Price = null.Float64From(px)
				q.ChangePct = null.Float64From(chg)
			}
		}
		out = append(out, q)
	}
	return out
}
