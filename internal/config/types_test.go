package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	invalidPort := cfg
	invalidPort.Server.Listen.Port = 70000
	require.Error(t, invalidPort.Validate())

	invalidTimeout := cfg
	invalidTimeout.Server.Upstream.Timeout = 0
	require.Error(t, invalidTimeout.Validate())

	invalidMode := cfg
	invalidMode.Server.NotFoundRedirectMode = "teleport"
	require.Error(t, invalidMode.Validate())

	viewMode := cfg
	viewMode.Server.NotFoundRedirectMode = "VIEW"
	require.NoError(t, viewMode.Validate())

	invalidCode := cfg
	invalidCode.Server.NotFoundRedirectCode = 42
	require.Error(t, invalidCode.Validate())

	redisWithoutAddress := cfg
	redisWithoutAddress.Server.Cache.Backend = "redis"
	require.Error(t, redisWithoutAddress.Validate())

	boltWithoutPath := cfg
	boltWithoutPath.Server.Cache.Backend = "bolt"
	require.Error(t, boltWithoutPath.Validate())

	unknownBackend := cfg
	unknownBackend.Server.Cache.Backend = "memcached"
	require.Error(t, unknownBackend.Validate())

	t.Run("tenant bundles", func(t *testing.T) {
		negativeTTL := DefaultConfig()
		negativeTTL.Domains = map[string]TenantConfig{"example-com": {CacheTTLSeconds: -1}}
		require.Error(t, negativeTTL.Validate())

		blankLanguage := DefaultConfig()
		blankLanguage.Defaults = &TenantConfig{Languages: []string{"en", " "}}
		require.Error(t, blankLanguage.Validate())

		valid := DefaultConfig()
		valid.Defaults = &TenantConfig{FrontendRepoURL: "https://frontend.test/pc/", Languages: []string{"en", "fr"}}
		require.NoError(t, valid.Validate())
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 301, cfg.Server.NotFoundRedirectCode)
	require.Equal(t, NotFoundModeRedirect, cfg.Server.NotFoundRedirectMode)
	require.True(t, cfg.Server.Cache.Enabled)
	require.Nil(t, cfg.Defaults)
}
