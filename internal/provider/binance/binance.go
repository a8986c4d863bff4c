package binance

import (
	"context"
	"errors"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"cryptodesk/internal/aggregate"
	"cryptodesk/internal/httpx"
	"cryptodesk/internal/provider"
	"cryptodesk/internal/provider/symbols"
)

const (
	defaultMirrorURL   = "https://api.binance.us"
	defaultPageLimit   = 1000
	defaultPageTimeout = 10 * time.Second
	dailyInterval      = "1d"
)

type Config struct {
	// BaseURL is the primary endpoint.
	BaseURL string
	// MirrorURL is tried once per ticker when BaseURL answers with a region
	// block. Empty means https://api.binance.us.
	MirrorURL string
	// DisableMirror turns the region-block fallback off.
	DisableMirror bool
	// PageLimit caps candles per page (upstream maximum is 1000).
	PageLimit int
	// PageTimeout bounds a single page request.
	PageTimeout time.Duration
	// SymbolMap overrides the static canonical -> native table.
	SymbolMap map[string]string
	// Header is sent with every request.
	Header map[string]string
}

// Adapter serves daily closes from spot klines, paginating by close time.
type Adapter struct {
	cfg     Config
	primary *Client
	mirror  *Client
}

func New(cfg Config, hc httpx.HTTPClient) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MirrorURL == "" {
		cfg.MirrorURL = defaultMirrorURL
	}
	if cfg.PageLimit <= 0 || cfg.PageLimit > defaultPageLimit {
		cfg.PageLimit = defaultPageLimit
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = defaultPageTimeout
	}
	if cfg.SymbolMap == nil {
		cfg.SymbolMap = symbols.Binance
	}

	opts := []ClientOption{WithHTTPClient(hc)}
	for k, v := range cfg.Header {
		opts = append(opts, WithHeader(map[string][]string{k: {v}}))
	}
	a := &Adapter{cfg: cfg, primary: NewClient(append(opts, WithBaseURL(cfg.BaseURL))...)}
	if !cfg.DisableMirror && cfg.MirrorURL != cfg.BaseURL {
		a.mirror = NewClient(append(opts, WithBaseURL(cfg.MirrorURL))...)
	}
	return a
}

func (a *Adapter) Name() provider.SourceID { return provider.Binance }

func (a *Adapter) Fetch(ctx context.Context, req provider.Request, sink provider.ErrorSink) (*provider.Table, error) {
	if req.Empty() {
		return provider.EmptyTable(), nil
	}
	if sink == nil {
		sink = provider.Discard
	}

	startMs := req.Start.UnixMilli()
	endMs := req.End.AddDate(0, 0, 1).UnixMilli() - 1

	series := make([]provider.Series, 0, len(req.Tickers))
	for _, ticker := range req.Tickers {
		if ctx.Err() != nil {
			break
		}
		sym, ok := symbols.Map(a.cfg.SymbolMap).Lookup(ticker)
		if !ok {
			continue
		}

		candles, err := a.history(ctx, sym, startMs, endMs)
		if err != nil {
			sink.Record(&provider.FetchError{Source: provider.Binance, Ticker: ticker, Err: err})
			logx.WithContext(ctx).Errorf("binance: %s (%s): %v; keeping %d candles", ticker, sym, err, len(candles))
		}
		if len(candles) == 0 {
			continue
		}

		obs := make([]aggregate.Observation, 0, len(candles))
		for _, c := range candles {
			obs = append(obs, aggregate.Observation{At: c.OpenTime, Close: c.Close})
		}
		s := aggregate.Clip(aggregate.CollapseDaily(ticker, obs), req.Start, req.End)
		if len(s.Points) == 0 {
			continue
		}
		series = append(series, s)
	}
	return aggregate.Assemble(series), nil
}

// history walks pages from startMs until endMs, an empty page, or a cursor
// that stops advancing. Candles collected before an error are returned with
// it.
func (a *Adapter) history(ctx context.Context, sym string, startMs, endMs int64) ([]Candle, error) {
	client := a.primary
	switched := false

	var out []Candle
	cursor := startMs
	for cursor <= endMs {
		page, err := a.page(ctx, client, sym, cursor, endMs)
		if errors.Is(err, provider.ErrRegionBlocked) && !switched && a.mirror != nil {
			logx.WithContext(ctx).Infof("binance: %s blocked on %s, switching to %s", sym, client.BaseURL(), a.mirror.BaseURL())
			client, switched = a.mirror, true
			continue
		}
		if err != nil {
			return out, err
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)

		next := page[len(page)-1].CloseTime.UnixMilli() + 1
		if next <= cursor {
			break
		}
		cursor = next
	}
	return out, nil
}

func (a *Adapter) page(ctx context.Context, client *Client, sym string, startMs, endMs int64) ([]Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.PageTimeout)
	defer cancel()
	return client.Klines(ctx, KlinesRequest{
		Symbol:    sym,
		Interval:  dailyInterval,
		StartTime: startMs,
		EndTime:   endMs,
		Limit:     a.cfg.PageLimit,
	})
}
