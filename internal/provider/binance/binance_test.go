package binance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"cryptodesk/internal/httpx/httpxmock"
	"cryptodesk/internal/provider"
)

const dayMs = int64(24 * time.Hour / time.Millisecond)

type sinkFunc func(error)

func (f sinkFunc) Record(err error) { f(err) }

func collect(errs *[]error) provider.ErrorSink {
	return sinkFunc(func(err error) { *errs = append(*errs, err) })
}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

// klines renders n daily candles starting at from, closes counting up from first.
func klines(from time.Time, n int, first float64) string {
	rows := make([]string, 0, n)
	for i := 0; i < n; i++ {
		open := from.UnixMilli() + int64(i)*dayMs
		rows = append(rows, fmt.Sprintf(`[%d,"1.0","2.0","0.5","%s","10.0",%d,"0",1,"0","0","0"]`,
			open, strconv.FormatFloat(first+float64(i), 'f', 2, 64), open+dayMs-1))
	}
	return "[" + strings.Join(rows, ",") + "]"
}

func respond(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func queryMs(t *testing.T, req *http.Request, key string) int64 {
	t.Helper()
	v, err := strconv.ParseInt(req.URL.Query().Get(key), 10, 64)
	require.NoError(t, err)
	return v
}

func TestAdapter_PaginatesUntilEmptyPage(t *testing.T) {
	t.Parallel()

	// Arrange: three full pages of 3 candles, then an empty page
	ctrl := gomock.NewController(t)
	hc := httpxmock.NewMockHTTPClient(ctrl)
	start, end := day(2024, 1, 1), day(2024, 1, 12)
	calls := 0
	hc.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		calls++
		cursor := time.UnixMilli(queryMs(t, req, "startTime")).UTC()
		if calls > 3 {
			return respond(http.StatusOK, "[]"), nil
		}
		return respond(http.StatusOK, klines(cursor, 3, float64(calls*100))), nil
	}).Times(4)

	a := New(Config{PageLimit: 3}, hc)

	// Act
	var errs []error
	tbl, err := a.Fetch(t.Context(), provider.NewRequest([]string{"BTC-USD"}, start, end), collect(&errs))

	// Assert
	require.NoError(t, err)
	require.Empty(t, errs)
	require.Len(t, tbl.Dates, 9)
	require.Equal(t, day(2024, 1, 9), tbl.Dates[8])
	require.Equal(t, []string{"BTC-USD"}, tbl.Tickers())
	require.InDelta(t, 100.0, tbl.Columns[0].Values[0].Float64, 1e-9)
	require.InDelta(t, 302.0, tbl.Columns[0].Values[8].Float64, 1e-9)
}

func TestAdapter_StopsAtRangeEnd(t *testing.T) {
	t.Parallel()

	// Arrange: one page that reaches past End, so no second call is needed
	ctrl := gomock.NewController(t)
	hc := httpxmock.NewMockHTTPClient(ctrl)
	start, end := day(2024, 3, 1), day(2024, 3, 2)
	hc.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, "BTCUSDT", req.URL.Query().Get("symbol"))
		require.Equal(t, "1d", req.URL.Query().Get("interval"))
		require.Equal(t, "1000", req.URL.Query().Get("limit"))
		require.Equal(t, start.UnixMilli(), queryMs(t, req, "startTime"))
		require.Equal(t, day(2024, 3, 3).UnixMilli()-1, queryMs(t, req, "endTime"))
		return respond(http.StatusOK, klines(start, 2, 50)), nil
	}).Times(1)

	// Act
	tbl, err := New(Config{}, hc).Fetch(t.Context(), provider.NewRequest([]string{"BTC-USD"}, start, end), provider.Discard)

	// Assert
	require.NoError(t, err)
	require.Len(t, tbl.Dates, 2)
}

func TestAdapter_RegionBlockSwitchesToMirror(t *testing.T) {
	t.Parallel()

	// Arrange: the primary answers 451, the mirror serves data
	ctrl := gomock.NewController(t)
	hc := httpxmock.NewMockHTTPClient(ctrl)
	start, end := day(2024, 1, 1), day(2024, 1, 2)
	var hosts []string
	hc.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		hosts = append(hosts, req.URL.Host)
		if req.URL.Host == "api.binance.com" {
			return respond(http.StatusUnavailableForLegalReasons, `{"code":0,"msg":"restricted location"}`), nil
		}
		return respond(http.StatusOK, klines(start, 2, 1)), nil
	}).Times(2)

	a := New(Config{}, hc)

	// Act
	var errs []error
	tbl, err := a.Fetch(t.Context(), provider.NewRequest([]string{"BTC-USD"}, start, end), collect(&errs))

	// Assert
	require.NoError(t, err)
	require.Empty(t, errs)
	require.Equal(t, []string{"api.binance.com", "api.binance.us"}, hosts)
	require.Len(t, tbl.Dates, 2)
}

func TestAdapter_ZeroConfigFallsBackToRegionalMirror(t *testing.T) {
	t.Parallel()

	// Arrange: every response is a region block
	ctrl := gomock.NewController(t)
	hc := httpxmock.NewMockHTTPClient(ctrl)
	var hosts []string
	hc.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		hosts = append(hosts, req.URL.Host)
		return respond(http.StatusUnavailableForLegalReasons, "{}"), nil
	}).Times(2)

	// Act
	var errs []error
	tbl, err := New(Config{}, hc).Fetch(t.Context(), provider.NewRequest([]string{"BTC-USD"}, day(2024, 1, 1), day(2024, 1, 2)), collect(&errs))

	// Assert
	require.NoError(t, err)
	require.True(t, tbl.Empty())
	require.Equal(t, []string{"api.binance.com", "api.binance.us"}, hosts)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], provider.ErrRegionBlocked)
}

func TestAdapter_DisableMirror(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	hc := httpxmock.NewMockHTTPClient(ctrl)
	hc.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, "api.binance.com", req.URL.Host)
		return respond(http.StatusForbidden, "blocked"), nil
	}).Times(1)

	// Act
	var errs []error
	tbl, err := New(Config{DisableMirror: true}, hc).Fetch(t.Context(), provider.NewRequest([]string{"BTC-USD"}, day(2024, 1, 1), day(2024, 1, 2)), collect(&errs))

	// Assert
	require.NoError(t, err)
	require.True(t, tbl.Empty())
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], provider.ErrRegionBlocked)
}

func TestAdapter_MirrorAlsoBlocked(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	hc := httpxmock.NewMockHTTPClient(ctrl)
	hc.EXPECT().Do(gomock.Any()).Return(respond(http.StatusForbidden, "blocked"), nil).Times(1)
	hc.EXPECT().Do(gomock.Any()).Return(respond(http.StatusForbidden, "blocked"), nil).Times(1)

	a := New(Config{}, hc)

	// Act
	var errs []error
	tbl, err := a.Fetch(t.Context(), provider.NewRequest([]string{"ETH-USD"}, day(2024, 1, 1), day(2024, 1, 5)), collect(&errs))

	// Assert
	require.NoError(t, err)
	require.True(t, tbl.Empty())
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], provider.ErrRegionBlocked)
	var fe *provider.FetchError
	require.True(t, errors.As(errs[0], &fe))
	require.Equal(t, "ETH-USD", fe.Ticker)
	require.Equal(t, provider.Binance, fe.Source)
}

func TestAdapter_KeepsCandlesCollectedBeforeError(t *testing.T) {
	t.Parallel()

	// Arrange: a full first page, then a rate limit
	ctrl := gomock.NewController(t)
	hc := httpxmock.NewMockHTTPClient(ctrl)
	start := day(2024, 1, 1)
	gomock.InOrder(
		hc.EXPECT().Do(gomock.Any()).Return(respond(http.StatusOK, klines(start, 2, 7)), nil),
		hc.EXPECT().Do(gomock.Any()).Return(respond(http.StatusTooManyRequests, ""), nil),
	)

	// Act
	var errs []error
	tbl, err := New(Config{PageLimit: 2}, hc).Fetch(t.Context(), provider.NewRequest([]string{"SOL-USD"}, start, day(2024, 1, 10)), collect(&errs))

	// Assert
	require.NoError(t, err)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], provider.ErrRateLimited)
	require.Len(t, tbl.Dates, 2)
	require.Equal(t, []string{"SOL-USD"}, tbl.Tickers())
}

func TestAdapter_TickerFailureIsIsolated(t *testing.T) {
	t.Parallel()

	// Arrange: ETH fails at the transport, BTC and SOL succeed
	ctrl := gomock.NewController(t)
	hc := httpxmock.NewMockHTTPClient(ctrl)
	start, end := day(2024, 1, 1), day(2024, 1, 3)
	hc.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("symbol") == "ETHUSDT" {
			return nil, errors.New("connection reset")
		}
		return respond(http.StatusOK, klines(start, 3, 1)), nil
	}).Times(3)

	// Act
	var errs []error
	tbl, err := New(Config{}, hc).Fetch(t.Context(), provider.NewRequest([]string{"BTC-USD", "ETH-USD", "SOL-USD"}, start, end), collect(&errs))

	// Assert
	require.NoError(t, err)
	require.Equal(t, []string{"BTC-USD", "SOL-USD"}, tbl.Tickers())
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "binance: ETH-USD")
}

func TestAdapter_UnmappedTickerIsSkipped(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := httpxmock.NewMockHTTPClient(ctrl)
	hc.EXPECT().Do(gomock.Any()).Times(0)

	var errs []error
	tbl, err := New(Config{}, hc).Fetch(t.Context(), provider.NewRequest([]string{"PEPE-USD"}, day(2024, 1, 1), day(2024, 1, 3)), collect(&errs))

	require.NoError(t, err)
	require.True(t, tbl.Empty())
	require.Empty(t, errs)
}

func TestAdapter_InvertedRangeMakesNoCalls(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := httpxmock.NewMockHTTPClient(ctrl)
	hc.EXPECT().Do(gomock.Any()).Times(0)

	tbl, err := New(Config{}, hc).Fetch(t.Context(), provider.NewRequest([]string{"BTC-USD"}, day(2024, 2, 1), day(2024, 1, 1)), provider.Discard)

	require.NoError(t, err)
	require.True(t, tbl.Empty())
}

func TestAdapter_SymbolMapOverride(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := httpxmock.NewMockHTTPClient(ctrl)
	start := day(2024, 1, 1)
	hc.EXPECT().Do(gomock.Any()).DoAndReturn(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, "PEPEUSDT", req.URL.Query().Get("symbol"))
		return respond(http.StatusOK, klines(start, 1, 0.01)), nil
	}).Times(1)

	a := New(Config{SymbolMap: map[string]string{"PEPE-USD": "PEPEUSDT"}}, hc)
	tbl, err := a.Fetch(t.Context(), provider.NewRequest([]string{"PEPE-USD"}, start, start), provider.Discard)

	require.NoError(t, err)
	require.Equal(t, []string{"PEPE-USD"}, tbl.Tickers())
}

func TestAdapter_CancelledContextStopsEarly(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := httpxmock.NewMockHTTPClient(ctrl)
	hc.EXPECT().Do(gomock.Any()).Times(0)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	tbl, err := New(Config{}, hc).Fetch(ctx, provider.NewRequest([]string{"BTC-USD"}, day(2024, 1, 1), day(2024, 1, 2)), provider.Discard)

	require.NoError(t, err)
	require.True(t, tbl.Empty())
}

func TestParseKlines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{name: "empty array", body: "[]", want: 0},
		{name: "two rows", body: klines(day(2024, 1, 1), 2, 1), want: 2},
		{name: "error object", body: `{"code":-1121,"msg":"Invalid symbol."}`, wantErr: true},
		{name: "row not array", body: `[1,2]`, wantErr: true},
		{name: "close not numeric", body: `[[1,"1","1","1","abc","1",2]]`, wantErr: true},
		{name: "short row", body: `[[1,"1","1","1","2"]]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKlines([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, tt.want)
		})
	}
}

func TestParseCandle_DecimalClose(t *testing.T) {
	t.Parallel()

	c, err := parseCandle([]byte(`[1704067200000,"42283.58","44184.10","42180.77","44179.55","27174.29",1704153599999]`))
	require.NoError(t, err)
	require.Equal(t, day(2024, 1, 1), c.OpenTime)
	require.InDelta(t, 44179.55, c.Close, 1e-9)
	require.Equal(t, day(2024, 1, 2).Add(-time.Millisecond), c.CloseTime)
}
