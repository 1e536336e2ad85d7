package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchTenantsFileReloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	tenantsFile := filepath.Join(dir, "tenants.yaml")
	require.NoError(t, os.WriteFile(tenantsFile, []byte("domains:\n  file-test:\n    client_id: v1\n"), 0o600))

	serverCfg := filepath.Join(dir, "server.yaml")
	contents := "server:\n  tenants_file: " + tenantsFile + "\ndomains:\n  inline-test:\n    client_id: inline\n"
	require.NoError(t, os.WriteFile(serverCfg, []byte(contents), 0o600))

	loader := NewLoader("FRONTPROXY", serverCfg)
	cfg, err := loader.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "v1", cfg.Domains["file-test"].ClientID)

	changeCh := make(chan Config, 4)
	errCh := make(chan error, 4)
	watcher, err := loader.WatchTenants(ctx, cfg, func(next Config) {
		changeCh <- next
	}, func(err error) {
		errCh <- err
	})
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(tenantsFile, []byte("domains:\n  file-test:\n    client_id: v2\n"), 0o600))

	select {
	case next := <-changeCh:
		require.Equal(t, "v2", next.Domains["file-test"].ClientID)
		require.Equal(t, "inline", next.Domains["inline-test"].ClientID)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload event")
	}
}

func TestWatchTenantsRequiresFile(t *testing.T) {
	loader := NewLoader("FRONTPROXY")
	_, err := loader.WatchTenants(context.Background(), DefaultConfig(), func(Config) {}, nil)
	require.Error(t, err)

	_, err = loader.WatchTenants(context.Background(), DefaultConfig(), nil, nil)
	require.Error(t, err)
}

func TestTenantsWatcherStopIsIdempotent(t *testing.T) {
	var w *TenantsWatcher
	w.Stop()
}
