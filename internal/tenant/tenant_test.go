package tenant

import (
	"testing"
	"time"

	"github.com/l0p7/frontproxy/internal/config"
	"github.com/l0p7/frontproxy/internal/expr"
	"github.com/stretchr/testify/require"
)

func newEnv(t *testing.T) *expr.Environment {
	t.Helper()
	env, err := expr.NewEnvironment()
	require.NoError(t, err)
	return env
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"shop.example.com":      "shop-example-com",
		"shop.example.com:8080": "shop-example-com-8080",
		"a..b":                  "a-b",
		"under_score":           "under_score",
		"":                      "",
	}
	for in, want := range tests {
		require.Equal(t, want, Sanitize(in), in)
	}
}

func TestResolve(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Defaults = &config.TenantConfig{ClientID: "global", FrontendRepoURL: "https://global.test/"}
	cfg.Domains = map[string]config.TenantConfig{
		"shop-example-com": {ClientID: "shop", FrontendRepoURL: "https://shop.test/", CacheTTLSeconds: 30},
	}
	table, err := NewTable(cfg, newEnv(t))
	require.NoError(t, err)

	res, err := table.Resolve("shop.example.com", "/fr/about")
	require.NoError(t, err)
	require.Equal(t, "shop", res.Tenant.ClientID)
	require.Equal(t, "shop-example-com", res.Key)
	require.Equal(t, "fr/about", res.Slug)
	require.Equal(t, 30*time.Second, res.Tenant.CacheTTL)
	require.Equal(t, DefaultLanguage, res.Tenant.MainLanguage)

	res, err = table.Resolve("Shop.Example.COM", "/")
	require.NoError(t, err)
	require.Equal(t, "shop", res.Tenant.ClientID, "host matching ignores case")
	require.Equal(t, "shop-example-com", res.Key)

	res, err = table.Resolve("other.test", "/")
	require.NoError(t, err)
	require.Equal(t, "global", res.Tenant.ClientID)
	require.Equal(t, "other-test", res.Key, "defaults keep the host key for cache scoping")
	require.Equal(t, "", res.Slug)
}

func TestResolveConfigMissing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Domains = map[string]config.TenantConfig{"known-test": {}}
	table, err := NewTable(cfg, newEnv(t))
	require.NoError(t, err)

	for _, host := range []string{"unknown.test", "other.test:8080", ""} {
		_, err := table.Resolve(host, "/page")
		require.ErrorIs(t, err, ErrConfigMissing, host)
	}
}

func TestResolveDevMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Multidomain.Dev = true
	cfg.Domains = map[string]config.TenantConfig{
		"shop":           {ClientID: "shop"},
		"localhost-8080": {ClientID: "local"},
	}
	table, err := NewTable(cfg, newEnv(t))
	require.NoError(t, err)

	res, err := table.Resolve("localhost:8080", "/shop/fr/about")
	require.NoError(t, err)
	require.Equal(t, "shop", res.Tenant.ClientID)
	require.Equal(t, "shop", res.Key)
	require.Equal(t, "shop", res.Prefix)
	require.Equal(t, "fr/about", res.Slug)

	res, err = table.Resolve("localhost:8080", "/")
	require.NoError(t, err)
	require.Equal(t, "local", res.Tenant.ClientID)

	_, err = table.Resolve("localhost:8080", "/unknown/page")
	require.ErrorIs(t, err, ErrConfigMissing)
}

func TestNewTableRejectsBadBypass(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Domains = map[string]config.TenantConfig{"a": {CacheBypass: []string{"request.path +"}}}
	_, err := NewTable(cfg, newEnv(t))
	require.Error(t, err)
}

func TestFrontendBase(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{raw: "https://frontend.test/pc/"},
		{raw: "http://frontend.test/"},
		{raw: "", wantErr: true},
		{raw: "https://frontend.test/pc", wantErr: true},
		{raw: "frontend.test/", wantErr: true},
		{raw: "ftp://frontend.test/", wantErr: true},
	}
	for _, tc := range tests {
		tenant := &Tenant{FrontendRepoURL: tc.raw}
		u, err := tenant.FrontendBase()
		if tc.wantErr {
			require.ErrorIs(t, err, ErrInvalidFrontend, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		require.Equal(t, tc.raw, u.String())
	}
}

func TestTenantLanguages(t *testing.T) {
	tenant, err := newTenant("t", config.TenantConfig{
		MainLanguage:      "fr",
		Languages:         []string{"fr", "en"},
		MultilingualSites: []string{"Shop.Example.com"},
	}, newEnv(t))
	require.NoError(t, err)

	require.True(t, tenant.HasLanguage("en"))
	require.False(t, tenant.HasLanguage("de"))
	require.False(t, tenant.HasLanguage(""))
	require.True(t, tenant.IsMultilingual("shop.example.com:8443"))
	require.True(t, tenant.IsMultilingual("shop.example.com"))
	require.False(t, tenant.IsMultilingual("other.test"))
}

func TestFrontendsValid(t *testing.T) {
	empty, err := NewTable(config.DefaultConfig(), newEnv(t))
	require.NoError(t, err)
	require.False(t, empty.FrontendsValid())

	cfg := config.DefaultConfig()
	cfg.Domains = map[string]config.TenantConfig{
		"a": {FrontendRepoURL: "https://a.test/"},
		"b": {FrontendRepoURL: "https://b.test/"},
	}
	good, err := NewTable(cfg, newEnv(t))
	require.NoError(t, err)
	require.True(t, good.FrontendsValid())
	require.Equal(t, []string{"a", "b"}, good.Names())

	cfg.Defaults = &config.TenantConfig{FrontendRepoURL: "https://defaults.test"}
	bad, err := NewTable(cfg, newEnv(t))
	require.NoError(t, err)
	require.False(t, bad.FrontendsValid())
	require.Equal(t, 3, bad.Len())
}

func TestHolderSwap(t *testing.T) {
	first, err := NewTable(config.DefaultConfig(), newEnv(t))
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	cfg.Domains = map[string]config.TenantConfig{"a": {}}
	second, err := NewTable(cfg, newEnv(t))
	require.NoError(t, err)

	holder := NewHolder(first, nil)
	require.Same(t, first, holder.Load())
	prev := holder.Swap(second)
	require.Same(t, first, prev)
	require.Same(t, second, holder.Load())
}
