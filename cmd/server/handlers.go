package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/volatiletech/null"
	"github.com/zeromicro/go-zero/core/logx"

	"cryptodesk/internal/analytics"
	"cryptodesk/internal/diagnostics"
	"cryptodesk/internal/fallback"
	"cryptodesk/internal/provider"
)

const (
	dateLayout      = time.DateOnly
	defaultLookback = 30
	maxTickers      = 100
	defaultTimeout  = 60 * time.Second
)

// Prices is the part of the orchestrator the handlers use.
type Prices interface {
	GetPrices(ctx context.Context, sess *fallback.Session, tickers []string, start, end time.Time, pref provider.SourceID) *provider.Table
}

type api struct {
	prices   Prices
	session  *fallback.Session
	diag     *diagnostics.Service
	universe []string
	timeout  time.Duration
	now      func() time.Time
}

func newRouter(a *api) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`"ok"`))
	}).Methods(http.MethodGet)

	s := r.PathPrefix("/api").Subrouter()
	s.HandleFunc("/prices", a.handlePrices).Methods(http.MethodGet, http.MethodOptions)
	s.HandleFunc("/tape", a.handleTape).Methods(http.MethodGet, http.MethodOptions)
	s.HandleFunc("/diagnostics", a.handleDiagnostics).Methods(http.MethodGet, http.MethodOptions)
	s.HandleFunc("/cache/clear", a.handleClearCache).Methods(http.MethodPost, http.MethodOptions)

	r.Use(withJSONHeaders, withGzip, recoverPanic, limitBody)
	return r
}

type column struct {
	Ticker string         `json:"ticker"`
	Values []null.Float64 `json:"values"`
}

type pricesResponse struct {
	SourcePreference provider.SourceID `json:"source_preference"`
	Start            string            `json:"start"`
	End              string            `json:"end"`
	Dates            []string          `json:"dates"`
	Columns          []column          `json:"columns"`
	NoData           bool              `json:"no_data"`
}

type priceQuery struct {
	tickers    []string
	start, end time.Time
	source     provider.SourceID
}

func (a *api) parseQuery(r *http.Request) (priceQuery, string) {
	q := r.URL.Query()
	pq := priceQuery{tickers: a.universe}
	if v := strings.TrimSpace(q.Get("tickers")); v != "" {
		pq.tickers = splitCSV(v)
	}
	if len(pq.tickers) > maxTickers {
		return pq, "too many tickers (max 100)"
	}

	src, err := provider.ParseSourceID(q.Get("source"))
	if err != nil {
		return pq, err.Error()
	}
	pq.source = src

	pq.end = provider.Day(a.now())
	if v := q.Get("end"); v != "" {
		if pq.end, err = time.Parse(dateLayout, v); err != nil {
			return pq, "invalid end date, want YYYY-MM-DD"
		}
	}
	pq.start = pq.end.AddDate(0, 0, -defaultLookback)
	if v := q.Get("start"); v != "" {
		if pq.start, err = time.Parse(dateLayout, v); err != nil {
			return pq, "invalid start date, want YYYY-MM-DD"
		}
	}
	return pq, ""
}

func (a *api) handlePrices(w http.ResponseWriter, r *http.Request) {
	pq, msg := a.parseQuery(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout())
	defer cancel()

	tbl := a.prices.GetPrices(ctx, a.session, pq.tickers, pq.start, pq.end, pq.source)
	resp := pricesResponse{
		SourcePreference: pq.source,
		Start:            pq.start.Format(dateLayout),
		End:              pq.end.Format(dateLayout),
		Dates:            make([]string, 0, len(tbl.Dates)),
		Columns:          make([]column, 0, len(tbl.Columns)),
		NoData:           tbl.Empty(),
	}
	for _, d := range tbl.Dates {
		resp.Dates = append(resp.Dates, d.Format(dateLayout))
	}
	for _, c := range tbl.Columns {
		resp.Columns = append(resp.Columns, column{Ticker: c.Ticker, Values: c.Values})
	}
	writeJSON(w, http.StatusOK, resp)
}

type tapeResponse struct {
	AsOf   string            `json:"as_of"`
	Quotes []analytics.Quote `json:"quotes"`
}

func (a *api) handleTape(w http.ResponseWriter, r *http.Request) {
	pq, msg := a.parseQuery(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.requestTimeout())
	defer cancel()

	tickers := provider.NormalizeTickers(pq.tickers)
	tbl := a.prices.GetPrices(ctx, a.session, tickers, pq.start, pq.end, pq.source)
	writeJSON(w, http.StatusOK, tapeResponse{AsOf: pq.end.Format(dateLayout), Quotes: analytics.Tape(tbl, tickers)})
}

func (a *api) requestTimeout() time.Duration {
	if a.timeout <= 0 {
		return defaultTimeout
	}
	return a.timeout
}

func (a *api) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.diag.Report(r.Context()))
}

func (a *api) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := a.diag.ClearCache(r.Context()); err != nil {
		logx.WithContext(r.Context()).Errorf("clear cache: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
