package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot, including any bundles declared in
// server.tenants_file.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal a nested path (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.InlineDefaults = cloneTenantPtr(cfg.Defaults)
	cfg.InlineDomains = cloneDomainMap(cfg.Domains)

	if cfg.Server.TenantsFile != "" {
		bundle, err := LoadTenants(ctx, cfg.Server.TenantsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.applyBundle(bundle)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyBundle merges a tenants file on top of the inline bundles. Domains in
// the file replace inline domains with the same key.
func (c *Config) applyBundle(bundle TenantBundle) {
	c.Defaults = cloneTenantPtr(c.InlineDefaults)
	if bundle.Defaults != nil {
		c.Defaults = cloneTenantPtr(bundle.Defaults)
	}
	c.Domains = cloneDomainMap(c.InlineDomains)
	if c.Domains == nil && len(bundle.Domains) > 0 {
		c.Domains = make(map[string]TenantConfig, len(bundle.Domains))
	}
	for name, tenant := range bundle.Domains {
		c.Domains[name] = cloneTenant(tenant)
	}
	c.TenantSources = append([]string(nil), bundle.Sources...)
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":              cfg.Server.Logging.Level,
				"format":             cfg.Server.Logging.Format,
				"correlation_header": cfg.Server.Logging.CorrelationHeader,
			},
			"templates": map[string]any{
				"folder":    cfg.Server.Templates.Folder,
				"not_found": cfg.Server.Templates.NotFound,
			},
			"cache": map[string]any{
				"enabled":   cfg.Server.Cache.Enabled,
				"backend":   cfg.Server.Cache.Backend,
				"namespace": cfg.Server.Cache.Namespace,
				"compress":  cfg.Server.Cache.Compress,
				"redis": map[string]any{
					"address":  cfg.Server.Cache.Redis.Address,
					"username": cfg.Server.Cache.Redis.Username,
					"password": cfg.Server.Cache.Redis.Password,
					"db":       cfg.Server.Cache.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Redis.TLS.Enabled,
						"ca_file": cfg.Server.Cache.Redis.TLS.CAFile,
					},
				},
				"bolt": map[string]any{
					"path": cfg.Server.Cache.Bolt.Path,
				},
			},
			"upstream": map[string]any{
				"timeout":              cfg.Server.Upstream.Timeout.String(),
				"insecure_skip_verify": cfg.Server.Upstream.InsecureSkipVerify,
				"api_url":              cfg.Server.Upstream.APIURL,
			},
			"tracking": map[string]any{
				"timeout": cfg.Server.Tracking.Timeout.String(),
			},
			"multidomain": map[string]any{
				"dev": cfg.Server.Multidomain.Dev,
			},
			"tenants_file":            cfg.Server.TenantsFile,
			"security_code":           cfg.Server.SecurityCode,
			"not_found_redirect_code": cfg.Server.NotFoundRedirectCode,
			"not_found_redirect_mode": cfg.Server.NotFoundRedirectMode,
			"support_email":           cfg.Server.SupportEmail,
		},
	}
}

func cloneTenant(in TenantConfig) TenantConfig {
	out := in
	out.Languages = append([]string(nil), in.Languages...)
	out.MultilingualSites = append([]string(nil), in.MultilingualSites...)
	out.CacheBypass = append([]string(nil), in.CacheBypass...)
	return out
}

func cloneTenantPtr(in *TenantConfig) *TenantConfig {
	if in == nil {
		return nil
	}
	out := cloneTenant(*in)
	return &out
}

func cloneDomainMap(in map[string]TenantConfig) map[string]TenantConfig {
	if in == nil {
		return nil
	}
	out := make(map[string]TenantConfig, len(in))
	for name, tenant := range in {
		out[name] = cloneTenant(tenant)
	}
	return out
}
