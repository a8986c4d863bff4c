package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null"

	"cryptodesk/internal/diagnostics"
	"cryptodesk/internal/fallback"
	"cryptodesk/internal/provider"
	"cryptodesk/internal/provider/cache"
)

type priceCall struct {
	tickers    []string
	start, end time.Time
	pref       provider.SourceID
}

type fakePrices struct {
	mu    sync.Mutex
	calls []priceCall
	tbl   *provider.Table
}

func (f *fakePrices) GetPrices(_ context.Context, _ *fallback.Session, tickers []string, start, end time.Time, pref provider.SourceID) *provider.Table {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, priceCall{tickers, start, end, pref})
	if f.tbl == nil {
		return provider.EmptyTable()
	}
	return f.tbl
}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func newTestAPI(tbl *provider.Table) (*api, *fakePrices) {
	fp := &fakePrices{tbl: tbl}
	sess := &fallback.Session{Cache: cache.New(cache.NewMemoryStore(), time.Hour), Errors: &provider.LastError{}}
	diag := diagnostics.New(sess, nil)
	diag.Probes = nil
	return &api{
		prices:   fp,
		session:  sess,
		diag:     diag,
		universe: []string{"BTC-USD", "ETH-USD"},
		timeout:  time.Second,
		now:      func() time.Time { return time.Date(2024, 3, 31, 18, 0, 0, 0, time.UTC) },
	}, fp
}

func serve(t *testing.T, a *api, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	newRouter(a).ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestPrices_EncodesMissingAsNull(t *testing.T) {
	// Arrange
	tbl := &provider.Table{
		Dates: []time.Time{day(2024, 1, 1), day(2024, 1, 2)},
		Columns: []provider.Column{
			{Ticker: "BTC-USD", Values: []null.Float64{null.Float64From(42000), null.Float64From(43000)}},
			{Ticker: "ETH-USD", Values: []null.Float64{{}, null.Float64From(2300.5)}},
		},
	}
	a, fp := newTestAPI(tbl)

	// Act
	rr := serve(t, a, http.MethodGet, "/api/prices?tickers=BTC-USD,eth-usd&start=2024-01-01&end=2024-01-02&source=Binance")

	// Assert
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.JSONEq(t, `{
        "source_preference": "binance",
        "start": "2024-01-01",
        "end": "2024-01-02",
        "dates": ["2024-01-01", "2024-01-02"],
        "columns": [
            {"ticker": "BTC-USD", "values": [42000, 43000]},
            {"ticker": "ETH-USD", "values": [null, 2300.5]}
        ],
        "no_data": false
    }`, rr.Body.String())
	require.Len(t, fp.calls, 1)
	require.Equal(t, []string{"BTC-USD", "eth-usd"}, fp.calls[0].tickers)
	require.Equal(t, provider.Binance, fp.calls[0].pref)
}

func TestPrices_Defaults(t *testing.T) {
	a, fp := newTestAPI(nil)

	rr := serve(t, a, http.MethodGet, "/api/prices")

	require.Equal(t, http.StatusOK, rr.Code)
	var resp pricesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.NoData)
	require.Empty(t, resp.Dates)
	require.Equal(t, provider.Auto, resp.SourcePreference)
	require.Equal(t, "2024-03-01", resp.Start)
	require.Equal(t, "2024-03-31", resp.End)
	require.Equal(t, []string{"BTC-USD", "ETH-USD"}, fp.calls[0].tickers)
	require.Equal(t, day(2024, 3, 1), fp.calls[0].start)
}

func TestPrices_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"unknown source", "/api/prices?source=kraken"},
		{"bad start", "/api/prices?start=01/02/2024"},
		{"bad end", "/api/prices?end=yesterday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, fp := newTestAPI(nil)
			rr := serve(t, a, http.MethodGet, tt.target)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			require.Contains(t, rr.Body.String(), `"error"`)
			require.Empty(t, fp.calls)
		})
	}
}

func TestPrices_InvertedRangeIsNoData(t *testing.T) {
	a, _ := newTestAPI(nil)
	rr := serve(t, a, http.MethodGet, "/api/prices?start=2024-02-01&end=2024-01-01")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"no_data":true`)
}

func TestTape(t *testing.T) {
	tbl := &provider.Table{
		Dates:   []time.Time{day(2024, 3, 30), day(2024, 3, 31)},
		Columns: []provider.Column{{Ticker: "BTC-USD", Values: []null.Float64{null.Float64From(100), null.Float64From(105)}}},
	}
	a, _ := newTestAPI(tbl)

	rr := serve(t, a, http.MethodGet, "/api/tape")

	require.Equal(t, http.StatusOK, rr.Code)
	var resp tapeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "2024-03-31", resp.AsOf)
	require.Len(t, resp.Quotes, 2)
	require.InDelta(t, 105.0, resp.Quotes[0].Price.Float64, 1e-9)
	require.InDelta(t, 5.0, resp.Quotes[0].ChangePct.Float64, 1e-9)
	require.False(t, resp.Quotes[1].Price.Valid)
}

func TestDiagnosticsAndClearCache(t *testing.T) {
	a, _ := newTestAPI(nil)
	a.session.Errors.Record(&provider.FetchError{Source: provider.Yahoo, Ticker: "SOL-USD", Err: provider.ErrRateLimited})

	rr := serve(t, a, http.MethodGet, "/api/diagnostics")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "yahoo: SOL-USD: rate limited")

	rr = serve(t, a, http.MethodPost, "/api/cache/clear")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"cleared":true}`, rr.Body.String())

	rr = serve(t, a, http.MethodGet, "/api/cache/clear")
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHealthzAndGzip(t *testing.T) {
	a, _ := newTestAPI(nil)

	rr := serve(t, a, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodGet, "/api/prices", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr = httptest.NewRecorder()
	newRouter(a).ServeHTTP(rr, req)
	require.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	var resp pricesResponse
	require.NoError(t, json.NewDecoder(zr).Decode(&resp))
	require.True(t, resp.NoData)
}
