package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"github.com/volatiletech/null"

	"cryptodesk/internal/provider"
)

func sample() *provider.Table {
	return &provider.Table{
		Dates: []time.Time{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		Columns: []provider.Column{
			{Ticker: "BTC-USD", Values: []null.Float64{null.Float64From(42283.58), null.Float64From(44179.55)}},
			{Ticker: "ETH-USD", Values: []null.Float64{{}, null.Float64From(2352)}},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, sample()))
	require.Equal(t, "date,BTC-USD,ETH-USD\n2024-01-01,42283.58,\n2024-01-02,44179.55,2352\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, sample()))
	require.JSONEq(t, `{
		"dates": ["2024-01-01", "2024-01-02"],
		"columns": [
			{"ticker": "BTC-USD", "values": [42283.58, 44179.55]},
			{"ticker": "ETH-USD", "values": [null, 2352]}
		]
	}`, buf.String())
}

func TestGetPrices_RejectsBadFlags(t *testing.T) {
	tests := [][]string{
		{"fetch", "prices", "--source", "kraken"},
		{"fetch", "prices", "--format", "xml"},
		{"fetch", "prices", "--end", "31-01-2024"},
	}
	for _, args := range tests {
		app := newApp()
		app.Writer, app.ErrWriter = &bytes.Buffer{}, &bytes.Buffer{}
		app.ExitErrHandler = func(*cli.Context, error) {}
		require.Error(t, app.Run(args), "%v", args)
	}
}
