// Package fallback resolves a source preference into an ordered list of
// sources and returns the first acceptable price table.
package fallback

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"cryptodesk/internal/provider"
	"cryptodesk/internal/provider/cache"
)

// DefaultOrder is the attempt order for provider.Auto.
var DefaultOrder = []provider.SourceID{provider.Binance, provider.CoinGecko, provider.Yahoo}

// Session carries the per-caller state that used to live in process globals.
// Both fields are optional and safe to share between goroutines.
type Session struct {
	Cache  *cache.Cache
	Errors *provider.LastError
}

// AcceptPolicy decides whether a source's table ends the search.
type AcceptPolicy interface {
	Accept(req provider.Request, tbl *provider.Table) bool
}

// NonEmpty accepts any table with at least one row and one column.
type NonEmpty struct{}

func (NonEmpty) Accept(_ provider.Request, tbl *provider.Table) bool { return !tbl.Empty() }

// MinCoverage accepts a table whose columns cover at least Fraction of the
// requested tickers. Empty tables are never accepted.
type MinCoverage struct {
	Fraction float64
}

func (m MinCoverage) Accept(req provider.Request, tbl *provider.Table) bool {
	if tbl.Empty() || len(req.Tickers) == 0 {
		return false
	}
	return float64(len(tbl.Columns))/float64(len(req.Tickers)) >= m.Fraction
}

type Orchestrator struct {
	sources map[provider.SourceID]provider.Source
	order   []provider.SourceID
	policy  AcceptPolicy
}

type Option func(*Orchestrator)

// WithOrder replaces DefaultOrder for provider.Auto.
func WithOrder(order ...provider.SourceID) Option {
	return func(o *Orchestrator) {
		if len(order) > 0 {
			o.order = append([]provider.SourceID(nil), order...)
		}
	}
}

func WithPolicy(p AcceptPolicy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.policy = p
		}
	}
}

// New registers sources by name. A later source with the same name replaces
// an earlier one.
func New(sources []provider.Source, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sources: make(map[provider.SourceID]provider.Source, len(sources)),
		order:   append([]provider.SourceID(nil), DefaultOrder...),
		policy:  NonEmpty{},
	}
	for _, s := range sources {
		if s != nil {
			o.sources[s.Name()] = s
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Attempts lists the registered sources tried for pref, in order.
func (o *Orchestrator) Attempts(pref provider.SourceID) []provider.SourceID {
	candidates := []provider.SourceID{pref}
	if pref == provider.Auto || pref == "" {
		candidates = o.order
	}
	out := make([]provider.SourceID, 0, len(candidates))
	for _, id := range candidates {
		if _, ok := o.sources[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// GetPrices never fails: adapter errors and panics are recorded in
// sess.Errors and the source is treated as having returned nothing. When no
// source is acceptable the first non-empty table seen is returned, else an
// empty table.
func (o *Orchestrator) GetPrices(ctx context.Context, sess *Session, tickers []string, start, end time.Time, pref provider.SourceID) *provider.Table {
	req := provider.NewRequest(provider.NormalizeTickers(tickers), start, end)
	if req.Empty() {
		return provider.EmptyTable()
	}
	if sess == nil {
		sess = &Session{}
	}

	var fallbackTbl *provider.Table
	var fallbackSrc provider.SourceID
	for _, id := range o.Attempts(pref) {
		if ctx.Err() != nil {
			break
		}
		src := o.sources[id]
		if sess.Cache != nil {
			src = sess.Cache.Wrap(src)
		}

		began := time.Now()
		tbl := o.fetch(ctx, src, req, sess)
		logx.WithContext(ctx).Infow("source attempted",
			logx.Field("source", id),
			logx.Field("tickers", len(req.Tickers)),
			logx.Field("rows", len(tbl.Dates)),
			logx.Field("columns", len(tbl.Columns)),
			logx.Field("duration", time.Since(began).String()),
		)

		if o.policy.Accept(req, tbl) {
			return tbl
		}
		if fallbackTbl == nil && !tbl.Empty() {
			fallbackTbl, fallbackSrc = tbl, id
		}
	}
	if fallbackTbl != nil {
		logx.WithContext(ctx).Infof("fallback: no source accepted, serving best effort from %s", fallbackSrc)
		return fallbackTbl
	}
	return provider.EmptyTable()
}

func (o *Orchestrator) fetch(ctx context.Context, src provider.Source, req provider.Request, sess *Session) (tbl *provider.Table) {
	var sink provider.ErrorSink = provider.Discard
	if sess.Errors != nil {
		sink = sess.Errors
	}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s: panic: %v", src.Name(), r)
			logx.WithContext(ctx).Errorf("%v\n%s", err, debug.Stack())
			sink.Record(err)
			tbl = provider.EmptyTable()
		}
	}()

	tbl, err := src.Fetch(ctx, req, sink)
	if err != nil {
		err = fmt.Errorf("%s: %w", src.Name(), err)
		logx.WithContext(ctx).Error(err)
		sink.Record(err)
		return provider.EmptyTable()
	}
	if tbl == nil {
		return provider.EmptyTable()
	}
	return tbl
}
