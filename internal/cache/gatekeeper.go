package cache

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/l0p7/frontproxy/internal/metrics"
)

// Scope describes one frontend request as the gatekeeper sees it.
type Scope struct {
	Tenant string
	TTL    time.Duration
	Method string
	// Bypassed is set when a tenant cache_bypass predicate matched.
	Bypassed bool
	Slug     string
	Language string
	Query    url.Values
}

// Gatekeeper applies the cache policy around a Store. Store failures are
// logged and reported as misses; they never fail the request.
type Gatekeeper struct {
	store     Store
	enabled   bool
	namespace string
	recorder  *metrics.Recorder
	logger    *slog.Logger
}

type GatekeeperOptions struct {
	Enabled   bool
	Namespace string
	Recorder  *metrics.Recorder
	Logger    *slog.Logger
}

func NewGatekeeper(store Store, opts GatekeeperOptions) *Gatekeeper {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "frontproxy"
	}
	return &Gatekeeper{
		store:     store,
		enabled:   opts.Enabled && store != nil,
		namespace: namespace,
		recorder:  opts.Recorder,
		logger:    logger,
	}
}

// Enabled reports the global switch.
func (g *Gatekeeper) Enabled() bool { return g != nil && g.enabled }

// Eligible reports whether scope may be served from or written to the cache.
func (g *Gatekeeper) Eligible(scope Scope) bool {
	return g.Enabled() && scope.TTL > 0 && scope.Method == http.MethodGet && !scope.Bypassed
}

func (g *Gatekeeper) Key(scope Scope) string {
	return Key(g.namespace, scope.Tenant, scope.Slug, scope.Language, scope.Query)
}

// Lookup returns the cached body for scope, if any.
func (g *Gatekeeper) Lookup(ctx context.Context, scope Scope) ([]byte, bool) {
	if !g.Eligible(scope) {
		if g.Enabled() && scope.Bypassed {
			g.recorder.ObserveCache(scope.Tenant, metrics.CacheOperationLookup, metrics.CacheBypass)
		}
		return nil, false
	}
	body, ok, err := g.store.Get(ctx, g.Key(scope))
	switch {
	case err != nil:
		g.logger.Warn("cache lookup failed", slog.String("tenant", scope.Tenant), slog.Any("error", err))
		g.recorder.ObserveCache(scope.Tenant, metrics.CacheOperationLookup, metrics.CacheError)
		return nil, false
	case !ok:
		g.recorder.ObserveCache(scope.Tenant, metrics.CacheOperationLookup, metrics.CacheMiss)
		return nil, false
	}
	g.recorder.ObserveCache(scope.Tenant, metrics.CacheOperationLookup, metrics.CacheHit)
	return body, true
}

// Storable reports whether an upstream response may populate the cache:
// a 200 with an HTML body. Hits are replayed as 200, so other statuses
// would be rewritten on the way back out.
func Storable(status int, contentType string) bool {
	if status != http.StatusOK {
		return false
	}
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/html"
}

// Store writes body for scope with the tenant TTL.
func (g *Gatekeeper) Store(ctx context.Context, scope Scope, body []byte) {
	if !g.Eligible(scope) {
		return
	}
	if err := g.store.Put(ctx, g.Key(scope), body, scope.TTL); err != nil {
		g.logger.Warn("cache store failed", slog.String("tenant", scope.Tenant), slog.Any("error", err))
		g.recorder.ObserveCache(scope.Tenant, metrics.CacheOperationStore, metrics.CacheError)
		return
	}
	g.recorder.ObserveCache(scope.Tenant, metrics.CacheOperationStore, metrics.CacheStored)
}

// Clear empties the store. It works even when the global switch is off so
// stale pages from a previous run can be flushed.
func (g *Gatekeeper) Clear(ctx context.Context) error {
	if g == nil || g.store == nil {
		return nil
	}
	if err := g.store.Clear(ctx); err != nil {
		g.recorder.ObserveCache("", metrics.CacheOperationClear, metrics.CacheError)
		return err
	}
	g.recorder.ObserveCache("", metrics.CacheOperationClear, metrics.CacheStored)
	return nil
}

// Size reports the number of stored entries, zero without a store.
func (g *Gatekeeper) Size(ctx context.Context) (int64, error) {
	if g == nil || g.store == nil {
		return 0, nil
	}
	return g.store.Size(ctx)
}

func (g *Gatekeeper) Close(ctx context.Context) error {
	if g == nil || g.store == nil {
		return nil
	}
	return g.store.Close(ctx)
}
