// Package tenant maps inbound requests onto per-domain configuration bundles.
package tenant

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/l0p7/frontproxy/internal/config"
	"github.com/l0p7/frontproxy/internal/expr"
)

var (
	// ErrConfigMissing reports that neither a domain entry nor defaults exist.
	ErrConfigMissing = errors.New("tenant: configuration missing")
	// ErrInvalidFrontend reports a frontend_repo_url that cannot be forwarded to.
	ErrInvalidFrontend = errors.New("tenant: invalid frontend_repo_url")
)

// DefaultLanguage applies when a tenant declares no main language.
const DefaultLanguage = "en"

// Tenant is the resolved, immutable bundle for one domain.
type Tenant struct {
	Name              string
	ClientID          string
	FrontendRepoURL   string
	MainLanguage      string
	Languages         []string
	MultilingualSites map[string]struct{}
	TrackingHits      bool
	CacheTTL          time.Duration
	Bypass            expr.BypassSet
}

func newTenant(name string, cfg config.TenantConfig, env *expr.Environment) (*Tenant, error) {
	bypass, err := env.CompileBypass(cfg.CacheBypass)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", name, err)
	}
	main := strings.TrimSpace(cfg.MainLanguage)
	if main == "" {
		main = DefaultLanguage
	}
	sites := make(map[string]struct{}, len(cfg.MultilingualSites))
	for _, site := range cfg.MultilingualSites {
		if site = strings.ToLower(strings.TrimSpace(site)); site != "" {
			sites[site] = struct{}{}
		}
	}
	languages := make([]string, 0, len(cfg.Languages))
	for _, lang := range cfg.Languages {
		languages = append(languages, strings.TrimSpace(lang))
	}
	return &Tenant{
		Name:              name,
		ClientID:          cfg.ClientID,
		FrontendRepoURL:   strings.TrimSpace(cfg.FrontendRepoURL),
		MainLanguage:      main,
		Languages:         languages,
		MultilingualSites: sites,
		TrackingHits:      cfg.TrackingHits,
		CacheTTL:          time.Duration(cfg.CacheTTLSeconds) * time.Second,
		Bypass:            bypass,
	}, nil
}

// HasLanguage reports whether lang belongs to the tenant language set.
func (t *Tenant) HasLanguage(lang string) bool {
	return lang != "" && slices.Contains(t.Languages, lang)
}

// IsMultilingual reports whether negotiation applies to host. Ports are ignored.
func (t *Tenant) IsMultilingual(host string) bool {
	if len(t.MultilingualSites) == 0 {
		return false
	}
	_, ok := t.MultilingualSites[strings.ToLower(hostname(host))]
	return ok
}

// FrontendBase validates frontend_repo_url: non-empty, absolute http(s) and
// terminated by a path separator.
func (t *Tenant) FrontendBase() (*url.URL, error) {
	raw := t.FrontendRepoURL
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidFrontend)
	}
	if !strings.HasSuffix(raw, "/") {
		return nil, fmt.Errorf("%w: %q must end with /", ErrInvalidFrontend, raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrontend, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute http url", ErrInvalidFrontend, raw)
	}
	return u, nil
}

var unsafeRun = regexp.MustCompile(`[^0-9A-Za-z_ ]+`)

// Sanitize turns an HTTP host into a lookup key by collapsing every run of
// characters outside [0-9A-Za-z_ ] into a single hyphen.
func Sanitize(host string) string {
	return unsafeRun.ReplaceAllString(host, "-")
}

func hostname(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
