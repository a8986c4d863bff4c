package main

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/volatiletech/null"

	"cryptodesk/internal/provider"
)

// writeCSV prints a date column followed by one column per ticker. Missing
// values are empty cells.
func writeCSV(w io.Writer, tbl *provider.Table) error {
	cw := csv.NewWriter(w)
	header := append([]string{"date"}, tbl.Tickers()...)
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for i, d := range tbl.Dates {
		row[0] = d.Format(dateLayout)
		for j, c := range tbl.Columns {
			row[j+1] = formatCell(c.Values[i])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v null.Float64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

type jsonColumn struct {
	Ticker string         `json:"ticker"`
	Values []null.Float64 `json:"values"`
}

type jsonTable struct {
	Dates   []string     `json:"dates"`
	Columns []jsonColumn `json:"columns"`
}

func writeJSON(w io.Writer, tbl *provider.Table) error {
	out := jsonTable{Dates: make([]string, 0, len(tbl.Dates)), Columns: make([]jsonColumn, 0, len(tbl.Columns))}
	for _, d := range tbl.Dates {
		out.Dates = append(out.Dates, d.Format(dateLayout))
	}
	for _, c := range tbl.Columns {
		out.Columns = append(out.Columns, jsonColumn{Ticker: c.Ticker, Values: c.Values})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
