package aggregate

import (
	"sort"
	"time"

	"github.com/volatiletech/null"

	"cryptodesk/internal/provider"
)

// Observation is a raw upstream price at an arbitrary instant.
type Observation struct {
	At    time.Time
	Close float64
}

// CollapseDaily buckets observations by UTC day and returns them as an
// ascending series. When several observations fall on the same day the one
// that came later in the input wins, whatever its timestamp.
func CollapseDaily(ticker string, obs []Observation) provider.Series {
	byDay := make(map[time.Time]float64, len(obs))
	for _, o := range obs {
		byDay[provider.Day(o.At)] = o.Close
	}
	s := provider.Series{Ticker: ticker, Points: make([]provider.Point, 0, len(byDay))}
	for d, v := range byDay {
		s.Points = append(s.Points, provider.Point{Day: d, Close: v})
	}
	sort.Slice(s.Points, func(i, j int) bool { return s.Points[i].Day.Before(s.Points[j].Day) })
	return s
}

// Clip keeps points whose day lies in [start, end].
func Clip(s provider.Series, start, end time.Time) provider.Series {
	window := provider.NewRequest(nil, start, end)
	out := provider.Series{Ticker: s.Ticker, Points: make([]provider.Point, 0, len(s.Points))}
	for _, p := range s.Points {
		if !window.Contains(p.Day) {
			continue
		}
		out.Points = append(out.Points, p)
	}
	return out
}

// Assemble aligns series into one table. Columns keep the input order; empty
// series get no column. Dates are the sorted union of all days and rows with
// no valid value in any column are dropped.
func Assemble(series []provider.Series) *provider.Table {
	kept := make([]provider.Series, 0, len(series))
	daySet := make(map[time.Time]struct{})
	for _, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		kept = append(kept, s)
		for _, p := range s.Points {
			daySet[provider.Day(p.Day)] = struct{}{}
		}
	}
	if len(kept) == 0 {
		return provider.EmptyTable()
	}

	dates := make([]time.Time, 0, len(daySet))
	for d := range daySet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	index := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		index[d] = i
	}

	cols := make([]provider.Column, 0, len(kept))
	for _, s := range kept {
		vals := make([]null.Float64, len(dates))
		for _, p := range s.Points {
			vals[index[provider.Day(p.Day)]] = null.Float64From(p.Close)
		}
		cols = append(cols, provider.Column{Ticker: s.Ticker, Values: vals})
	}
	return dropEmptyRows(&provider.Table{Dates: dates, Columns: cols})
}

func dropEmptyRows(t *provider.Table) *provider.Table {
	keep := make([]int, 0, len(t.Dates))
	for i := range t.Dates {
		for _, c := range t.Columns {
			if c.Values[i].Valid {
				keep = append(keep, i)
				break
			}
		}
	}
	if len(keep) == len(t.Dates) {
		return t
	}
	out := &provider.Table{Dates: make([]time.Time, 0, len(keep)), Columns: make([]provider.Column, len(t.Columns))}
	for _, i := range keep {
		out.Dates = append(out.Dates, t.Dates[i])
	}
	for ci, c := range t.Columns {
		vals := make([]null.Float64, 0, len(keep))
		for _, i := range keep {
			vals = append(vals, c.Values[i])
		}
		out.Columns[ci] = provider.Column{Ticker: c.Ticker, Values: vals}
	}
	return out
}
