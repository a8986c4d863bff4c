package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"cryptodesk/internal/aggregate"
	"cryptodesk/internal/httpx"
	"cryptodesk/internal/provider"
	"cryptodesk/internal/provider/symbols"
)

const (
	defaultBaseURL = "https://api.coingecko.com"
	maxDays        = 3650
	bufferDays     = 5
)

type Config struct {
	BaseURL   string
	APIKey    string // sent as x-cg-demo-api-key when set
	Currency  string
	SymbolMap map[string]string
	// Timeout bounds one HTTP call, including the retried one.
	Timeout time.Duration
	// Backoff is slept once after a 429 before the single retry.
	Backoff time.Duration
	// Politeness is slept between tickers, never after the last one.
	// Negative disables it.
	Politeness time.Duration
}

type Adapter struct {
	cfg    Config
	client httpx.HTTPClient

	// now and sleep are swapped in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, hc httpx.HTTPClient) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.SymbolMap == nil {
		cfg.SymbolMap = symbols.CoinGecko
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 10 * time.Second
	}
	if cfg.Politeness == 0 {
		cfg.Politeness = 1200 * time.Millisecond
	}
	return &Adapter{cfg: cfg, client: hc, now: time.Now, sleep: sleepCtx}
}

func (a *Adapter) Name() provider.SourceID { return provider.CoinGecko }

func (a *Adapter) Fetch(ctx context.Context, req provider.Request, sink provider.ErrorSink) (*provider.Table, error) {
	if req.Empty() {
		return provider.EmptyTable(), nil
	}
	if sink == nil {
		sink = provider.Discard
	}

	days := windowDays(req.Start, a.now())
	series := make([]provider.Series, 0, len(req.Tickers))
	requested := false
	for _, ticker := range req.Tickers {
		id, ok := symbols.Map(a.cfg.SymbolMap).Lookup(ticker)
		if !ok {
			continue
		}
		// politeness between successive upstream calls
		if requested && a.cfg.Politeness > 0 {
			if err := a.sleep(ctx, a.cfg.Politeness); err != nil {
				break
			}
		}
		requested = true

		obs, err := a.marketChart(ctx, id, days)
		if err != nil {
			sink.Record(&provider.FetchError{Source: provider.CoinGecko, Ticker: ticker, Err: err})
			logx.WithContext(ctx).Errorf("coingecko: %s (%s): %v", ticker, id, err)
			continue
		}
		s := aggregate.Clip(aggregate.CollapseDaily(ticker, obs), req.Start, req.End)
		if len(s.Points) == 0 {
			continue
		}
		series = append(series, s)
	}
	return aggregate.Assemble(series), nil
}

// windowDays sizes the trailing window, which upstream anchors at now, so that
// it reaches back to start.
func windowDays(start, now time.Time) int {
	days := int(provider.Day(now).Sub(provider.Day(start)).Hours() / 24)
	if days < 1 {
		days = 1
	}
	days += bufferDays
	if days > maxDays {
		days = maxDays
	}
	return days
}

// marketChart performs the request, retrying once after a backoff on 429.
func (a *Adapter) marketChart(ctx context.Context, id string, days int) ([]aggregate.Observation, error) {
	obs, err := a.marketChartOnce(ctx, id, days)
	if !errors.Is(err, provider.ErrRateLimited) {
		return obs, err
	}
	logx.WithContext(ctx).Infof("coingecko: %s rate limited, retrying in %s", id, a.cfg.Backoff)
	if serr := a.sleep(ctx, a.cfg.Backoff); serr != nil {
		return nil, fmt.Errorf("%w (backoff interrupted: %v)", err, serr)
	}
	return a.marketChartOnce(ctx, id, days)
}

func (a *Adapter) marketChartOnce(ctx context.Context, id string, days int) ([]aggregate.Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("vs_currency", a.cfg.Currency)
	q.Set("days", strconv.Itoa(days))
	q.Set("interval", "daily")
	u := fmt.Sprintf("%s/api/v3/coins/%s/market_chart?%s", a.cfg.BaseURL, url.PathEscape(id), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, httpx.StatusError(req, resp, provider.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, httpx.StatusError(req, resp, provider.ErrUnexpectedStatus)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var api chartResponse
	if err := dec.Decode(&api); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return api.observations()
}

type chartResponse struct {
	Prices [][]json.Number `json:"prices"`
}

func (r chartResponse) observations() ([]aggregate.Observation, error) {
	out := make([]aggregate.Observation, 0, len(r.Prices))
	for i, p := range r.Prices {
		if len(p) < 2 {
			return nil, fmt.Errorf("decode: price %d: want [ms, price], got %d fields", i, len(p))
		}
		ms, err := p[0].Int64()
		if err != nil {
			f, ferr := p[0].Float64()
			if ferr != nil {
				return nil, fmt.Errorf("decode: price %d timestamp: %w", i, err)
			}
			ms = int64(f)
		}
		if p[1] == "" {
			continue // null price
		}
		px, err := p[1].Float64()
		if err != nil {
			return nil, fmt.Errorf("decode: price %d value: %w", i, err)
		}
		out = append(out, aggregate.Observation{At: time.UnixMilli(ms).UTC(), Close: px})
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
