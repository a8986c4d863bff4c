package provider

import (
	"time"

	"github.com/volatiletech/null"
)

// Point is one daily close.
type Point struct {
	Day   time.Time `json:"day"`
	Close float64   `json:"close"`
}

// Series is a single ticker's daily closes, ascending by day.
type Series struct {
	Ticker string  `json:"ticker"`
	Points []Point `json:"points"`
}

// Column holds one ticker's values aligned to Table.Dates. Missing
// observations are invalid null.Float64 values.
type Column struct {
	Ticker string         `json:"ticker" msgpack:"ticker"`
	Values []null.Float64 `json:"values" msgpack:"values"`
}

// Table is the canonical price table: strictly increasing UTC days and one
// column per ticker that has at least one observation.
type Table struct {
	Dates   []time.Time `json:"dates" msgpack:"dates"`
	Columns []Column    `json:"columns" msgpack:"columns"`
}

// EmptyTable returns a table with no rows and no columns.
func EmptyTable() *Table {
	return &Table{Dates: []time.Time{}, Columns: []Column{}}
}

// Empty reports whether t has no rows or no columns. A nil table is empty.
func (t *Table) Empty() bool {
	return t == nil || len(t.Dates) == 0 || len(t.Columns) == 0
}

// Tickers returns column names in column order.
func (t *Table) Tickers() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Ticker)
	}
	return out
}

// Column returns the column for ticker.
func (t *Table) Column(ticker string) (Column, bool) {
	if t == nil {
		return Column{}, false
	}
	for _, c := range t.Columns {
		if c.Ticker == ticker {
			return c, true
		}
	}
	return Column{}, false
}
