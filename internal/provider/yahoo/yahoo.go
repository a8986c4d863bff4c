// Package yahoo reads daily closes from the Yahoo Finance v8 chart endpoint.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/volatiletech/null"
	"github.com/zeromicro/go-zero/core/logx"

	"cryptodesk/internal/aggregate"
	"cryptodesk/internal/httpx"
	"cryptodesk/internal/provider"
	"cryptodesk/internal/provider/symbols"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

type Config struct {
	BaseURL   string
	SymbolMap map[string]string
	Timeout   time.Duration
}

type Adapter struct {
	cfg    Config
	client httpx.HTTPClient
}

func New(cfg Config, hc httpx.HTTPClient) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.SymbolMap == nil {
		cfg.SymbolMap = symbols.Yahoo
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Adapter{cfg: cfg, client: hc}
}

func (a *Adapter) Name() provider.SourceID { return provider.Yahoo }

func (a *Adapter) Fetch(ctx context.Context, req provider.Request, sink provider.ErrorSink) (*provider.Table, error) {
	if req.Empty() {
		return provider.EmptyTable(), nil
	}
	if sink == nil {
		sink = provider.Discard
	}

	series := make([]provider.Series, 0, len(req.Tickers))
	for _, ticker := range req.Tickers {
		if ctx.Err() != nil {
			break
		}
		sym, ok := symbols.Map(a.cfg.SymbolMap).Lookup(ticker)
		if !ok {
			continue
		}
		obs, err := a.chart(ctx, sym, req.Start, req.End.AddDate(0, 0, 1))
		if err != nil {
			sink.Record(&provider.FetchError{Source: provider.Yahoo, Ticker: ticker, Err: err})
			logx.WithContext(ctx).Errorf("yahoo: %s: %v", ticker, err)
			continue
		}
		s := aggregate.Clip(aggregate.CollapseDaily(ticker, obs), req.Start, req.End)
		if len(s.Points) > 0 {
			series = append(series, s)
		}
	}
	return aggregate.Assemble(series), nil
}

func (a *Adapter) chart(ctx context.Context, sym string, from, to time.Time) ([]aggregate.Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("period1", strconv.FormatInt(from.Unix(), 10))
	q.Set("period2", strconv.FormatInt(to.Unix(), 10))
	q.Set("interval", "1d")
	u := a.cfg.BaseURL + "/v8/finance/chart/" + url.PathEscape(sym) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, httpx.StatusError(req, resp, provider.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, httpx.StatusError(req, resp, provider.ErrUnexpectedStatus)
	}

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding chart: %w", err)
	}
	return body.observations()
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []null.Float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

// observations pairs timestamps with closes, skipping null closes.
func (r chartResponse) observations() ([]aggregate.Observation, error) {
	if e := r.Chart.Error; e != nil {
		return nil, fmt.Errorf("chart error %s: %s", e.Code, e.Description)
	}
	if len(r.Chart.Result) == 0 {
		return nil, nil
	}
	res := r.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, nil
	}
	closes := res.Indicators.Quote[0].Close
	if len(closes) != len(res.Timestamp) {
		return nil, fmt.Errorf("decoding chart: %d timestamps but %d closes", len(res.Timestamp), len(closes))
	}
	out := make([]aggregate.Observation, 0, len(closes))
	for i, c := range closes {
		if !c.Valid {
			continue
		}
		out = append(out, aggregate.Observation{At: time.Unix(res.Timestamp[i], 0).UTC(), Close: c.Float64})
	}
	return out, nil
}
