// Package diagnostics reports upstream reachability and the last fetch error,
// and lets an operator drop cached results.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/errgroup"

	"cryptodesk/internal/fallback"
	"cryptodesk/internal/httpx"
)

// Probe names an upstream host and a cheap URL to ping on it.
type Probe struct {
	Name    string `json:"name" yaml:"name"`
	Host    string `json:"host" yaml:"host"`
	PingURL string `json:"ping_url" yaml:"ping_url"`
}

// DefaultProbes covers every built-in source.
var DefaultProbes = []Probe{
	{Name: "binance", Host: "api.binance.com", PingURL: "https://api.binance.com/api/v3/ping"},
	{Name: "coingecko", Host: "api.coingecko.com", PingURL: "https://api.coingecko.com/api/v3/ping"},
	{Name: "yahoo", Host: "query1.finance.yahoo.com", PingURL: "https://query1.finance.yahoo.com/v8/finance/chart/BTC-USD?range=1d&interval=1d"},
}

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type HostStatus struct {
	Name  string   `json:"name"`
	Host  string   `json:"host"`
	Addrs []string `json:"addrs,omitempty"`
	DNS   string   `json:"dns"`
	HTTP  string   `json:"http"`
	OK    bool     `json:"ok"`
}

type Report struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Hosts       []HostStatus `json:"hosts"`
	LastError   string       `json:"last_error,omitempty"`
	LastErrorAt *time.Time   `json:"last_error_at,omitempty"`
}

type Service struct {
	Probes   []Probe
	HTTP     httpx.HTTPClient
	Resolver Resolver
	Session  *fallback.Session
	// Timeout bounds each probe's DNS lookup and HTTP ping separately.
	Timeout time.Duration
}

func New(sess *fallback.Session, hc httpx.HTTPClient) *Service {
	return &Service{
		Probes:   DefaultProbes,
		HTTP:     hc,
		Resolver: net.DefaultResolver,
		Session:  sess,
		Timeout:  12 * time.Second,
	}
}

// Report probes all hosts concurrently. Probe failures are reported in the
// result, never returned.
func (s *Service) Report(ctx context.Context) Report {
	rep := Report{GeneratedAt: time.Now().UTC(), Hosts: make([]HostStatus, len(s.Probes))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range s.Probes {
		g.Go(func() error {
			rep.Hosts[i] = s.probe(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	if s.Session != nil {
		if msg, at := s.Session.Errors.Snapshot(); msg != "" {
			rep.LastError = msg
			rep.LastErrorAt = &at
		}
	}
	return rep
}

func (s *Service) probe(ctx context.Context, p Probe) HostStatus {
	st := HostStatus{Name: p.Name, Host: p.Host}

	dctx, cancel := context.WithTimeout(ctx, s.timeout())
	addrs, err := s.Resolver.LookupHost(dctx, p.Host)
	cancel()
	if err != nil {
		st.DNS = "DNS FAIL: " + err.Error()
	} else {
		st.Addrs = addrs
		st.DNS = "ok"
	}

	st.HTTP, st.OK = s.ping(ctx, p.PingURL)
	if !st.OK {
		logx.WithContext(ctx).Infow("diagnostics probe failed",
			logx.Field("host", p.Host), logx.Field("dns", st.DNS), logx.Field("http", st.HTTP))
	}
	return st
}

func (s *Service) ping(ctx context.Context, url string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "HTTP FAIL: " + err.Error(), false
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return fmt.Sprintf("HTTP FAIL: %v", err), false
	}
	defer resp.Body.Close()
	status := fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return status, resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (s *Service) timeout() time.Duration {
	if s.Timeout <= 0 {
		return 12 * time.Second
	}
	return s.Timeout
}

// ErrNoCache is returned by ClearCache when the session has no cache.
var ErrNoCache = errors.New("no cache configured")

// ClearCache drops every cached table. The last error is kept.
func (s *Service) ClearCache(ctx context.Context) error {
	if s.Session == nil || s.Session.Cache == nil {
		return ErrNoCache
	}
	if err := s.Session.Cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	logx.WithContext(ctx).Info("diagnostics: cache cleared")
	return nil
}
