package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every server-level option plus the tenant bundles once they are loaded.
type Config struct {
	Server   ServerConfig            `koanf:"server"`
	Defaults *TenantConfig           `koanf:"defaults"`
	Domains  map[string]TenantConfig `koanf:"domains"`

	// InlineDefaults and InlineDomains keep the bundles declared in the main
	// document so a tenants file reload can merge on top of them.
	InlineDefaults *TenantConfig           `koanf:"-"`
	InlineDomains  map[string]TenantConfig `koanf:"-"`
	// TenantSources records which files contributed tenant bundles.
	TenantSources []string `koanf:"-"`
}

// ServerConfig collects the process-wide knobs.
type ServerConfig struct {
	Listen      ListenConfig      `koanf:"listen"`
	Logging     LoggingConfig     `koanf:"logging"`
	Templates   TemplatesConfig   `koanf:"templates"`
	Cache       ServerCacheConfig `koanf:"cache"`
	Upstream    UpstreamConfig    `koanf:"upstream"`
	Tracking    TrackingConfig    `koanf:"tracking"`
	Multidomain MultidomainConfig `koanf:"multidomain"`

	TenantsFile          string `koanf:"tenants_file"`
	SecurityCode         string `koanf:"security_code"`
	NotFoundRedirectCode int    `koanf:"not_found_redirect_code"`
	NotFoundRedirectMode string `koanf:"not_found_redirect_mode"`
	SupportEmail         string `koanf:"support_email"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlation_header"`
}

// TemplatesConfig points at the folder holding the not-found view.
type TemplatesConfig struct {
	Folder   string `koanf:"folder"`
	NotFound string `koanf:"not_found"`
}

type ServerCacheConfig struct {
	Enabled   bool                   `koanf:"enabled"`
	Backend   string                 `koanf:"backend"`
	Namespace string                 `koanf:"namespace"`
	Compress  bool                   `koanf:"compress"`
	Redis     ServerRedisCacheConfig `koanf:"redis"`
	Bolt      ServerBoltCacheConfig  `koanf:"bolt"`
}

type ServerRedisCacheConfig struct {
	Address  string               `koanf:"address"`
	Username string               `koanf:"username"`
	Password string               `koanf:"password"`
	DB       int                  `koanf:"db"`
	TLS      ServerRedisTLSConfig `koanf:"tls"`
}

type ServerRedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"ca_file"`
}

type ServerBoltCacheConfig struct {
	Path string `koanf:"path"`
}

// UpstreamConfig governs every outbound call to the frontend repository and the API backend.
type UpstreamConfig struct {
	Timeout            time.Duration `koanf:"timeout"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
	APIURL             string        `koanf:"api_url"`
}

type TrackingConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// MultidomainConfig toggles path-based tenant selection used in development.
type MultidomainConfig struct {
	Dev bool `koanf:"dev"`
}

// TenantConfig is the per-domain bundle. The same shape serves as the global
// defaults when no domain entry matches.
type TenantConfig struct {
	ClientID          string   `koanf:"client_id"`
	FrontendRepoURL   string   `koanf:"frontend_repo_url"`
	MainLanguage      string   `koanf:"main_language"`
	Languages         []string `koanf:"languages"`
	MultilingualSites []string `koanf:"multilingual_sites"`
	TrackingHits      bool     `koanf:"tracking_hits"`
	CacheTTLSeconds   int      `koanf:"cache_ttl_seconds"`
	CacheBypass       []string `koanf:"cache_bypass"`
}

const (
	NotFoundModeRedirect = "redirect"
	NotFoundModeView     = "view"
)

// Validate enforces invariants that keep the runtime predictable before serving traffic.
// Tenant frontend URLs are not validated here: a bad URL only rejects the
// requests of that tenant.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port < 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Upstream.Timeout <= 0 {
		return fmt.Errorf("config: server.upstream.timeout must be positive: %s", c.Server.Upstream.Timeout)
	}
	if c.Server.Tracking.Timeout <= 0 {
		return fmt.Errorf("config: server.tracking.timeout must be positive: %s", c.Server.Tracking.Timeout)
	}
	if code := c.Server.NotFoundRedirectCode; code < 100 || code > 599 {
		return fmt.Errorf("config: server.not_found_redirect_code invalid: %d", code)
	}
	switch strings.ToLower(strings.TrimSpace(c.Server.NotFoundRedirectMode)) {
	case "", NotFoundModeRedirect, NotFoundModeView:
	default:
		return fmt.Errorf("config: server.not_found_redirect_mode unsupported: %s", c.Server.NotFoundRedirectMode)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
	case "bolt":
		if strings.TrimSpace(c.Server.Cache.Bolt.Path) == "" {
			return errors.New("config: server.cache.bolt.path required for bolt backend")
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	if c.Defaults != nil {
		if err := validateTenant("defaults", *c.Defaults); err != nil {
			return err
		}
	}
	for name, tenant := range c.Domains {
		if err := validateTenant("domains."+name, tenant); err != nil {
			return err
		}
	}
	return nil
}

func validateTenant(name string, t TenantConfig) error {
	if t.CacheTTLSeconds < 0 {
		return fmt.Errorf("config: %s.cache_ttl_seconds invalid: %d", name, t.CacheTTLSeconds)
	}
	for i, lang := range t.Languages {
		if strings.TrimSpace(lang) == "" {
			return fmt.Errorf("config: %s.languages[%d] empty", name, i)
		}
	}
	return nil
}

// DefaultConfig returns the baseline values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
			Templates: TemplatesConfig{
				Folder:   "./templates",
				NotFound: "not_found.html",
			},
			Cache: ServerCacheConfig{
				Enabled:   true,
				Backend:   "memory",
				Namespace: "frontproxy",
			},
			Upstream: UpstreamConfig{
				Timeout: 10 * time.Second,
			},
			Tracking: TrackingConfig{
				Timeout: 2 * time.Second,
			},
			NotFoundRedirectCode: 301,
			NotFoundRedirectMode: NotFoundModeRedirect,
		},
	}
}
