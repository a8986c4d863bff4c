package cache

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/singleflight"

	"cryptodesk/internal/provider"
)

// DefaultTTL applies when New is given a non-positive ttl.
const DefaultTTL = time.Hour

// Cache keeps fetched tables for a TTL. One Cache can wrap several sources;
// keys carry the source name. Safe for concurrent use.
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group
}

func New(store Store, ttl time.Duration) *Cache {
	if store == nil {
		store = NewMemoryStore()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl, now: time.Now}
}

// TTL reports the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Wrap returns src decorated with this cache.
func (c *Cache) Wrap(src provider.Source) provider.Source {
	return &Source{next: src, cache: c}
}

// Clear drops every entry. The next fetch of any key is a miss.
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Key identifies a request independent of ticker order.
func Key(src provider.SourceID, req provider.Request) string {
	tickers := append([]string(nil), req.Tickers...)
	sort.Strings(tickers)
	var b strings.Builder
	b.WriteString(string(src))
	b.WriteByte('|')
	b.WriteString(strings.Join(tickers, ","))
	b.WriteByte('|')
	b.WriteString(provider.Day(req.Start).Format(time.DateOnly))
	b.WriteByte('|')
	b.WriteString(provider.Day(req.End).Format(time.DateOnly))
	return b.String()
}

func (c *Cache) lookup(ctx context.Context, key string) (*provider.Table, bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		logx.WithContext(ctx).Errorf("cache: get %q: %v", key, err)
		return nil, false
	}
	if !ok || c.now().Sub(e.FetchedAt) >= c.ttl {
		return nil, false
	}
	if e.Table == nil {
		return provider.EmptyTable(), true
	}
	return e.Table, true
}

func (c *Cache) save(ctx context.Context, key string, tbl *provider.Table) {
	e := Entry{Table: tbl, FetchedAt: c.now()}
	if err := c.store.Set(ctx, key, e, c.ttl); err != nil {
		logx.WithContext(ctx).Errorf("cache: set %q: %v", key, err)
	}
}

// Source is a provider.Source served through a Cache.
type Source struct {
	next  provider.Source
	cache *Cache
}

func (s *Source) Name() provider.SourceID { return s.next.Name() }

// flight is the outcome of one shared upstream call.
type flight struct {
	tbl    *provider.Table
	stored bool
}

// Fetch serves hits from the store. Misses call the wrapped source once per key
// even under concurrent callers, under the context and sink of the caller that
// started the call; the others only see its per-ticker errors through the
// shared session. Empty tables are cached too. When that caller is cancelled
// mid-fetch its result is neither stored nor handed to the others: a waiting
// caller whose own context is still live fetches again.
func (s *Source) Fetch(ctx context.Context, req provider.Request, sink provider.ErrorSink) (*provider.Table, error) {
	key := Key(s.next.Name(), req)
	if tbl, ok := s.cache.lookup(ctx, key); ok {
		logx.WithContext(ctx).Debugf("cache: hit %s", key)
		return tbl, nil
	}

	v, err, shared := s.cache.group.Do(key, func() (any, error) {
		tbl, err := s.next.Fetch(ctx, req, sink)
		if err != nil {
			return nil, err
		}
		if tbl == nil {
			tbl = provider.EmptyTable()
		}
		// a cancelled fetch may be truncated
		if ctx.Err() != nil {
			return flight{tbl: tbl}, nil
		}
		s.cache.save(ctx, key, tbl)
		return flight{tbl: tbl, stored: true}, nil
	})
	if err != nil {
		return nil, err
	}
	f := v.(flight)
	if !f.stored && shared && ctx.Err() == nil {
		logx.WithContext(ctx).Debugf("cache: shared fetch of %s was cancelled, refetching", key)
		return s.Fetch(ctx, req, sink)
	}
	return f.tbl, nil
}
