package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeromicro/go-zero/core/logx"

	"cryptodesk/internal/config"
	"cryptodesk/internal/diagnostics"
	"cryptodesk/internal/fallback"
	"cryptodesk/internal/httpx"
	"cryptodesk/internal/provider"
	"cryptodesk/internal/provider/binance"
	"cryptodesk/internal/provider/cache"
	"cryptodesk/internal/provider/coingecko"
	"cryptodesk/internal/provider/ratelimit"
	"cryptodesk/internal/provider/yahoo"
)

// ServiceContext holds everything a shell needs to serve price requests.
type ServiceContext struct {
	Config       config.Config
	HTTP         *httpx.Client
	Sources      []provider.Source
	Orchestrator *fallback.Orchestrator
	Session      *fallback.Session
	Diagnostics  *diagnostics.Service

	redis *redis.Client
}

// NewServiceContext wires sources, cache and diagnostics from cfg.
func NewServiceContext(ctx context.Context, cfg config.Config) (*ServiceContext, error) {
	hc := httpx.New(cfg.HTTPTimeout)
	svc := &ServiceContext{Config: cfg, HTTP: hc}

	svc.Sources = BuildSources(cfg, hc)
	if len(svc.Sources) == 0 {
		logx.Info("svc: every source is disabled; all requests will return no data")
	}

	opts := []fallback.Option{fallback.WithOrder(cfg.AutoOrder()...)}
	if cfg.Sources.MinCoverage > 0 {
		opts = append(opts, fallback.WithPolicy(fallback.MinCoverage{Fraction: cfg.Sources.MinCoverage}))
	}
	svc.Orchestrator = fallback.New(svc.Sources, opts...)

	svc.Session = &fallback.Session{Errors: &provider.LastError{}}
	switch cfg.Cache.Backend {
	case "none":
	case "redis":
		client, err := cache.DialRedis(ctx, cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("svc: %w", err)
		}
		svc.redis = client
		svc.Session.Cache = cache.New(cache.NewRedisStore(client, cfg.Cache.Redis.Prefix), cfg.Cache.TTL)
	default:
		svc.Session.Cache = cache.New(cache.NewMemoryStore(), cfg.Cache.TTL)
	}

	if svc.Session.Cache != nil {
		logx.Infof("svc: %s cache, ttl %s", cfg.Cache.Backend, svc.Session.Cache.TTL())
	}
	svc.Diagnostics = diagnostics.New(svc.Session, hc)
	return svc, nil
}

// BuildSources constructs the enabled adapters, each behind its own pacing.
func BuildSources(cfg config.Config, hc httpx.HTTPClient) []provider.Source {
	var out []provider.Source
	paced := func(p config.Pacing) httpx.HTTPClient {
		return ratelimit.Wrap(hc, p.MaxRequestsPerMinute, p.Burst, p.MinInterval)
	}

	if b := cfg.Sources.Binance; b.Enabled {
		out = append(out, binance.New(binance.Config{
			BaseURL:       b.BaseURL,
			MirrorURL:     b.MirrorURL,
			DisableMirror: b.DisableMirror,
			PageLimit:     b.PageLimit,
			PageTimeout:   b.PageTimeout,
			SymbolMap:     cfg.SymbolMap(provider.Binance),
		}, paced(b.Pacing)))
	}
	if c := cfg.Sources.CoinGecko; c.Enabled {
		out = append(out, coingecko.New(coingecko.Config{
			BaseURL:    c.BaseURL,
			APIKey:     c.APIKey,
			SymbolMap:  cfg.SymbolMap(provider.CoinGecko),
			Timeout:    c.Timeout,
			Backoff:    c.Backoff,
			Politeness: politeness(c.Politeness, c.PolitenessRaw),
		}, paced(c.Pacing)))
	}
	if y := cfg.Sources.Yahoo; y.Enabled {
		out = append(out, yahoo.New(yahoo.Config{
			BaseURL:   y.BaseURL,
			SymbolMap: cfg.SymbolMap(provider.Yahoo),
			Timeout:   y.Timeout,
		}, paced(y.Pacing)))
	}
	return out
}

// politeness maps an explicit "0s" in config to disabled.
func politeness(d time.Duration, raw string) time.Duration {
	if d == 0 && raw != "" {
		return -1
	}
	return d
}

// Close releases external connections.
func (s *ServiceContext) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
