package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/frontproxy/internal/cache"
	"github.com/l0p7/frontproxy/internal/config"
	"github.com/l0p7/frontproxy/internal/expr"
	"github.com/l0p7/frontproxy/internal/logging"
	"github.com/l0p7/frontproxy/internal/metrics"
	"github.com/l0p7/frontproxy/internal/templates"
	"github.com/l0p7/frontproxy/internal/tenant"
	"github.com/l0p7/frontproxy/internal/upstream"
)

type harnessOptions struct {
	frontend http.HandlerFunc
	api      http.HandlerFunc
	// frontendURL overrides the frontend server address for every tenant.
	frontendURL string
	defaults    *config.TenantConfig
	domains     map[string]config.TenantConfig
	dev         bool

	cacheDisabled   bool
	notFoundView    bool
	notFoundCode    int
	securityCode    string
	supportEmail    string
	trackingTimeout time.Duration
}

type harness struct {
	pipeline *Pipeline
	server   *httptest.Server
	expect   *httpexpect.Expect
	recorder *metrics.Recorder
	apiURL   string
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	frontendURL := opts.frontendURL
	if frontendURL == "" && opts.frontend != nil {
		frontend := httptest.NewServer(opts.frontend)
		t.Cleanup(frontend.Close)
		frontendURL = frontend.URL + "/"
	}
	apiURL := ""
	if opts.api != nil {
		api := httptest.NewServer(opts.api)
		t.Cleanup(api.Close)
		apiURL = api.URL
	}

	cfg := config.DefaultConfig()
	cfg.Server.Multidomain.Dev = opts.dev
	if opts.defaults != nil {
		d := *opts.defaults
		if d.FrontendRepoURL == "" {
			d.FrontendRepoURL = frontendURL
		}
		cfg.Defaults = &d
	}
	cfg.Domains = make(map[string]config.TenantConfig, len(opts.domains))
	for name, bundle := range opts.domains {
		if bundle.FrontendRepoURL == "" {
			bundle.FrontendRepoURL = frontendURL
		}
		cfg.Domains[name] = bundle
	}

	env, err := expr.NewEnvironment()
	require.NoError(t, err)
	table, err := tenant.NewTable(cfg, env)
	require.NoError(t, err)

	notFound, err := templates.LoadNotFound(t.TempDir(), "not_found.html")
	require.NoError(t, err)

	logger := logging.Discard()
	recorder := metrics.NewRecorder(nil)
	mode := config.NotFoundModeRedirect
	if opts.notFoundView {
		mode = config.NotFoundModeView
	}
	code := opts.notFoundCode
	if code == 0 {
		code = http.StatusMovedPermanently
	}

	p := NewPipeline(Options{
		Tenants: tenant.NewHolder(table, logger),
		Cache: cache.NewGatekeeper(cache.NewMemory(), cache.GatekeeperOptions{
			Enabled:  !opts.cacheDisabled,
			Recorder: recorder,
			Logger:   logger,
		}),
		Upstream: upstream.NewClient(upstream.Options{
			Timeout:  2 * time.Second,
			APIURL:   apiURL,
			Recorder: recorder,
		}),
		NotFound:             notFound,
		Recorder:             recorder,
		Logger:               logger,
		CorrelationHeader:    "X-Request-ID",
		SecurityCode:         opts.securityCode,
		NotFoundRedirectCode: code,
		NotFoundMode:         mode,
		SupportEmail:         opts.supportEmail,
		TrackingTimeout:      opts.trackingTimeout,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/", p.ServeAPI)
	mux.HandleFunc("/clear-cache", p.ClearCache)
	mux.HandleFunc("/check", p.Check)
	mux.HandleFunc("/redirect/", p.Redirect)
	mux.HandleFunc("/", p.ServeFrontend)
	server := httptest.NewServer(p.Recoverer(mux))
	t.Cleanup(server.Close)

	client := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &harness{
		pipeline: p,
		server:   server,
		recorder: recorder,
		apiURL:   apiURL,
		expect: httpexpect.WithConfig(httpexpect.Config{
			BaseURL:  server.URL,
			Reporter: httpexpect.NewRequireReporter(t),
			Client:   client,
		}),
	}
}

// htmlPage answers every request with body as text/html.
func htmlPage(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}
