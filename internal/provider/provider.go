package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SourceID names an upstream price source. Auto is a meta value resolved by
// the fallback orchestrator into an ordered list of concrete sources.
type SourceID string

const (
	Auto      SourceID = "auto"
	Binance   SourceID = "binance"
	CoinGecko SourceID = "coingecko"
	Yahoo     SourceID = "yahoo"
)

// ParseSourceID accepts any casing; an empty value means Auto.
func ParseSourceID(s string) (SourceID, error) {
	switch id := SourceID(strings.ToLower(strings.TrimSpace(s))); id {
	case "":
		return Auto, nil
	case Auto, Binance, CoinGecko, Yahoo:
		return id, nil
	default:
		return "", fmt.Errorf("unknown source %q", s)
	}
}

// Request is the unit of work handed to a Source. Tickers are expected to be
// normalized already (see NormalizeTickers).
type Request struct {
	Tickers []string
	Start   time.Time
	End     time.Time
}

// NewRequest builds a Request with Start and End truncated to UTC days.
func NewRequest(tickers []string, start, end time.Time) Request {
	return Request{Tickers: tickers, Start: Day(start), End: Day(end)}
}

// Empty reports whether the request cannot produce any observation.
func (r Request) Empty() bool {
	return len(r.Tickers) == 0 || r.End.Before(r.Start)
}

// Contains reports whether day falls inside [Start, End].
func (r Request) Contains(day time.Time) bool {
	return !day.Before(r.Start) && !day.After(r.End)
}

// Source is implemented by every upstream adapter and by decorators around
// them (cache). Fetch degrades per ticker: failures are written to sink and
// the ticker is left out of the table. A non-nil error means the whole call
// was unusable.
//
//go:generate mockgen -package=providermock -destination=providermock/mock_provider.go -source=provider.go Source
type Source interface {
	Name() SourceID
	Fetch(ctx context.Context, req Request, sink ErrorSink) (*Table, error)
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeTickers trims and uppercases tickers, drops empties and removes
// duplicates keeping the first occurrence.
func NormalizeTickers(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
