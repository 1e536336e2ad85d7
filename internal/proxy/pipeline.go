// Package proxy turns inbound requests into upstream fetches and writes the
// interpreted result: frontend pages, API passthrough and admin operations.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/l0p7/frontproxy/internal/cache"
	"github.com/l0p7/frontproxy/internal/config"
	"github.com/l0p7/frontproxy/internal/expr"
	"github.com/l0p7/frontproxy/internal/language"
	"github.com/l0p7/frontproxy/internal/metrics"
	"github.com/l0p7/frontproxy/internal/templates"
	"github.com/l0p7/frontproxy/internal/tenant"
	"github.com/l0p7/frontproxy/internal/upstream"
)

const (
	modeFrontend = "frontend"
	modeAPI      = "api"
	modeAdmin    = "admin"

	defaultTrackingTimeout = 2 * time.Second
)

// Options wires the pipeline collaborators.
type Options struct {
	Tenants  *tenant.Holder
	Cache    *cache.Gatekeeper
	Upstream *upstream.Client
	// NotFound renders soft-404 pages in view mode.
	NotFound *templates.Template
	Recorder *metrics.Recorder
	Logger   *slog.Logger

	CorrelationHeader    string
	SecurityCode         string
	NotFoundRedirectCode int
	NotFoundMode         string
	SupportEmail         string
	TrackingTimeout      time.Duration
}

type Pipeline struct {
	tenants  *tenant.Holder
	cache    *cache.Gatekeeper
	upstream *upstream.Client
	notFound *templates.Template
	recorder *metrics.Recorder
	logger   *slog.Logger

	correlationHeader string
	securityCode      string
	notFoundCode      int
	notFoundView      bool
	supportEmail      string
	fallback          string
	trackingTimeout   time.Duration
}

func NewPipeline(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	code := opts.NotFoundRedirectCode
	if code == 0 {
		code = http.StatusMovedPermanently
	}
	timeout := opts.TrackingTimeout
	if timeout <= 0 {
		timeout = defaultTrackingTimeout
	}
	return &Pipeline{
		tenants:           opts.Tenants,
		cache:             opts.Cache,
		upstream:          opts.Upstream,
		notFound:          opts.NotFound,
		recorder:          opts.Recorder,
		logger:            logger.With(slog.String("agent", "pipeline")),
		correlationHeader: strings.TrimSpace(opts.CorrelationHeader),
		securityCode:      opts.SecurityCode,
		notFoundCode:      code,
		notFoundView:      strings.EqualFold(strings.TrimSpace(opts.NotFoundMode), config.NotFoundModeView),
		supportEmail:      opts.SupportEmail,
		fallback:          FallbackMessage(opts.SupportEmail),
		trackingTimeout:   timeout,
	}
}

// Reload publishes a new tenant table and drops every cached page, since
// TTLs and bypass rules may have changed.
func (p *Pipeline) Reload(ctx context.Context, next *tenant.Table) {
	p.tenants.Swap(next)
	if err := p.cache.Clear(ctx); err != nil {
		p.logger.Warn("cache clear after reload failed", slog.Any("error", err))
	}
}

// Close releases the cache store.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.cache.Close(ctx)
}

// exchange accumulates what the completion log line and metrics report.
type exchange struct {
	start     time.Time
	mode      string
	tenant    string
	outcome   string
	status    int
	fromCache bool
	logger    *slog.Logger
}

func (p *Pipeline) begin(w http.ResponseWriter, r *http.Request, mode string) *exchange {
	correlationID := p.requestCorrelationID(r)
	if p.correlationHeader != "" {
		w.Header().Set(p.correlationHeader, correlationID)
	}
	return &exchange{
		start: time.Now(),
		mode:  mode,
		logger: p.logger.With(
			slog.String("mode", mode),
			slog.String("correlation_id", correlationID),
		),
	}
}

func (x *exchange) set(outcome string, status int) {
	x.outcome = outcome
	x.status = status
}

func (p *Pipeline) finish(x *exchange) {
	duration := time.Since(x.start)
	x.logger.Info("request completed",
		slog.String("outcome", x.outcome),
		slog.Int("status", x.status),
		slog.Bool("from_cache", x.fromCache),
		slog.Duration("latency", duration),
	)
	p.recorder.ObserveRequest(x.tenant, x.mode, x.outcome, x.status, x.fromCache, duration)
}

// ServeFrontend answers a page request for the resolved tenant.
func (p *Pipeline) ServeFrontend(w http.ResponseWriter, r *http.Request) {
	x := p.begin(w, r, modeFrontend)
	defer p.finish(x)
	ctx := r.Context()

	res, err := p.tenants.Load().Resolve(r.Host, r.URL.Path)
	if err != nil {
		x.logger.Error("tenant resolution failed", slog.String("host", r.Host), slog.Any("error", err))
		x.set("config_missing", http.StatusInternalServerError)
		p.writeFallback(w, http.StatusInternalServerError)
		return
	}
	x.tenant = res.Key
	x.logger = x.logger.With(slog.String("tenant", res.Key))

	base, err := res.Tenant.FrontendBase()
	if err != nil {
		x.logger.Error("frontend repository unusable", slog.Any("error", err))
		x.set("invalid_frontend", http.StatusInternalServerError)
		p.writeFallback(w, http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	forwarded, err := forwardedQuery(w, r)
	if err != nil {
		x.logger.Warn("page form unreadable", slog.Any("error", err))
		x.set("bad_request", http.StatusBadRequest)
		p.writeFallback(w, http.StatusBadRequest)
		return
	}
	decision := language.Negotiate(language.Input{
		Host:           r.Host,
		Slug:           res.Slug,
		Query:          query,
		Cookie:         cookieValue(r, language.CookieName),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		Prefix:         res.Prefix,
	}, res.Tenant)
	for _, c := range decision.Cookies {
		http.SetCookie(w, &http.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Path:    "/",
			MaxAge:  int(c.TTL / time.Second),
			Expires: time.Now().Add(c.TTL),
		})
	}
	if decision.Redirect != "" {
		x.set("language_redirect", http.StatusFound)
		http.Redirect(w, r, decision.Redirect, http.StatusFound)
		return
	}

	token := ensureToken(w, r)

	_, bypassed, err := res.Tenant.Bypass.Match(res.Key, expr.FromHTTP(r, res.Slug))
	if err != nil {
		x.logger.Warn("cache bypass evaluation failed", slog.Any("error", err))
		bypassed = true
	}
	scope := cache.Scope{
		Tenant:   res.Key,
		TTL:      res.Tenant.CacheTTL,
		Method:   r.Method,
		Bypassed: bypassed,
		Slug:     res.Slug,
		Language: decision.Language,
		Query:    query,
	}
	if body, ok := p.cache.Lookup(ctx, scope); ok {
		x.fromCache = true
		x.set("cache_hit", http.StatusOK)
		writeBody(w, http.StatusOK, "text/html; charset=utf-8", insertToken(body, token), x.logger)
		return
	}

	hits := p.startHit(ctx, r, res.Tenant, x.logger)
	resp, err := p.upstream.FetchFrontend(ctx, upstream.FrontendRequest{
		Base:      base,
		Slug:      res.Slug,
		Query:     forwarded,
		Overrides: decision.Query(),
		Header:    frontendHeaders(r),
	})
	if err != nil {
		stampHit(w, hits)
		status := http.StatusInternalServerError
		if errors.Is(err, upstream.ErrTransport) {
			status = http.StatusServiceUnavailable
		}
		x.logger.Error("frontend fetch failed", slog.Any("error", err))
		x.set("upstream_error", status)
		p.writeFallback(w, status)
		return
	}

	switch resp.Signal() {
	case upstream.SignalSoftNotFound:
		stampHit(w, hits)
		p.softNotFound(w, r, x, res, decision.Language)
		return
	case upstream.SignalRedirect:
		if location := resp.Header.Get("Location"); location != "" {
			stampHit(w, hits)
			x.set("upstream_redirect", resp.Status)
			http.Redirect(w, r, location, resp.Status)
			return
		}
	}

	if cache.Storable(resp.Status, resp.ContentType()) {
		scope.TTL = cache.EffectiveTTL(scope.TTL, resp.Header.Get("Cache-Control"))
		p.cache.Store(ctx, scope, resp.Body)
	}
	stampHit(w, hits)
	contentType := resp.ContentType()
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	x.set("upstream", resp.Status)
	writeBody(w, resp.Status, contentType, insertToken(resp.Body, token), x.logger)
}

// softNotFound answers upstream status 238 with the configured view or a
// redirect to the site root.
func (p *Pipeline) softNotFound(w http.ResponseWriter, r *http.Request, x *exchange, res tenant.Resolution, lang string) {
	if p.notFoundView && p.notFound != nil {
		body, err := p.notFound.Render(templates.NotFoundData{
			Status:       p.notFoundCode,
			Path:         r.URL.Path,
			Host:         r.Host,
			Tenant:       res.Key,
			Language:     lang,
			SupportEmail: p.supportEmail,
		})
		if err != nil {
			x.logger.Error("not found view render failed", slog.Any("error", err))
			x.set("not_found_view", http.StatusInternalServerError)
			p.writeFallback(w, http.StatusInternalServerError)
			return
		}
		x.set("not_found_view", p.notFoundCode)
		writeBody(w, p.notFoundCode, "text/html; charset=utf-8", body, x.logger)
		return
	}
	target := "/"
	if res.Prefix != "" {
		target = "/" + res.Prefix + "/"
	}
	x.set("not_found_redirect", p.notFoundCode)
	http.Redirect(w, r, target, p.notFoundCode)
}

func frontendHeaders(r *http.Request) http.Header {
	h := http.Header{}
	for _, name := range []string{"User-Agent", "Accept-Language"} {
		if v := r.Header.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	h.Set("X-Forwarded-Host", r.Host)
	return h
}

// forwardedQuery merges the form fields of a POST under the URL query, so
// the URL wins on duplicate keys. Other methods forward the URL query.
func forwardedQuery(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	query := r.URL.Query()
	if r.Method != http.MethodPost || r.Body == nil || r.Body == http.NoBody {
		return query, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, upstream.MaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	merged := make(url.Values, len(r.PostForm)+len(query))
	for key, values := range r.PostForm {
		merged[key] = append([]string(nil), values...)
	}
	for key, values := range query {
		merged[key] = append([]string(nil), values...)
	}
	return merged, nil
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (p *Pipeline) requestCorrelationID(r *http.Request) string {
	if r != nil && p.correlationHeader != "" {
		if candidate := strings.TrimSpace(r.Header.Get(p.correlationHeader)); candidate != "" {
			return candidate
		}
	}
	return uuid.NewString()
}

// Recoverer converts a handler panic into the fallback page. The
// http.ErrAbortHandler sentinel keeps its meaning and is re-raised.
func (p *Pipeline) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			p.logger.Error("request panicked",
				slog.String("path", r.URL.Path),
				slog.Any("panic", rec),
			)
			p.writeFallback(w, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}
