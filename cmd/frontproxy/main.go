// Command frontproxy serves tenant frontends and the API backend behind one
// caching reverse proxy.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/frontproxy/internal/cache"
	"github.com/l0p7/frontproxy/internal/config"
	"github.com/l0p7/frontproxy/internal/expr"
	"github.com/l0p7/frontproxy/internal/logging"
	"github.com/l0p7/frontproxy/internal/metrics"
	"github.com/l0p7/frontproxy/internal/proxy"
	"github.com/l0p7/frontproxy/internal/server"
	"github.com/l0p7/frontproxy/internal/templates"
	"github.com/l0p7/frontproxy/internal/tenant"
	"github.com/l0p7/frontproxy/internal/upstream"
)

type cli struct {
	Config    string `help:"Server configuration file (yaml, json or toml)." short:"c" type:"path"`
	EnvPrefix string `help:"Environment variable prefix for overrides." default:"FRONTPROXY" name:"env-prefix"`
}

func parseFlags(args []string) (cli, error) {
	var flags cli
	parser, err := kong.New(&flags,
		kong.Name("frontproxy"),
		kong.Description("Multi-tenant caching reverse proxy for frontend repositories."),
	)
	if err != nil {
		return cli{}, err
	}
	if _, err := parser.Parse(args); err != nil {
		return cli{}, err
	}
	return flags, nil
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "frontproxy: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, nil); err != nil {
		fmt.Fprintf(os.Stderr, "frontproxy: %v\n", err)
		os.Exit(1)
	}
}

// run loads configuration, assembles the pipeline and serves until ctx ends.
// onReady, when set, receives the bound listener address.
func run(ctx context.Context, flags cli, onReady func(net.Addr)) error {
	loader := config.NewLoader(flags.EnvPrefix, flags.Config)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	app, err := assemble(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := app.pipeline.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	if cfg.Server.TenantsFile != "" {
		watcher, err := loader.WatchTenants(ctx, cfg, func(next config.Config) {
			table, err := tenant.NewTable(next, app.env)
			if err != nil {
				logger.Error("tenants reload rejected", slog.Any("error", err))
				return
			}
			app.pipeline.Reload(ctx, table)
		}, func(err error) {
			logger.Error("tenants watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Error("tenants watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	srv, err := server.New(cfg, logger, server.NewRouter(app.pipeline, app.recorder.Handler()))
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}
	if onReady != nil {
		go func() {
			select {
			case <-srv.Ready():
				onReady(srv.Addr())
			case <-ctx.Done():
			}
		}()
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}

type application struct {
	pipeline *proxy.Pipeline
	recorder *metrics.Recorder
	env      *expr.Environment
}

func assemble(cfg config.Config, logger *slog.Logger) (*application, error) {
	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	table, err := tenant.NewTable(cfg, env)
	if err != nil {
		return nil, fmt.Errorf("tenant table: %w", err)
	}
	if table.Len() == 0 {
		logger.Warn("no tenant bundles configured; every page request will fail")
	}

	notFound, err := templates.LoadNotFound(cfg.Server.Templates.Folder, cfg.Server.Templates.NotFound)
	if err != nil {
		return nil, fmt.Errorf("not found view: %w", err)
	}

	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	store := buildStore(logger.With(slog.String("agent", "cache_factory")), cfg.Server.Cache)
	gate := cache.NewGatekeeper(store, cache.GatekeeperOptions{
		Enabled:   cfg.Server.Cache.Enabled,
		Namespace: cfg.Server.Cache.Namespace,
		Recorder:  recorder,
		Logger:    logger.With(slog.String("agent", "cache")),
	})

	client := upstream.NewClient(upstream.Options{
		Timeout:            cfg.Server.Upstream.Timeout,
		InsecureSkipVerify: cfg.Server.Upstream.InsecureSkipVerify,
		APIURL:             cfg.Server.Upstream.APIURL,
		Recorder:           recorder,
	})

	pipe := proxy.NewPipeline(proxy.Options{
		Tenants:              tenant.NewHolder(table, logger),
		Cache:                gate,
		Upstream:             client,
		NotFound:             notFound,
		Recorder:             recorder,
		Logger:               logger,
		CorrelationHeader:    cfg.Server.Logging.CorrelationHeader,
		SecurityCode:         cfg.Server.SecurityCode,
		NotFoundRedirectCode: cfg.Server.NotFoundRedirectCode,
		NotFoundMode:         cfg.Server.NotFoundRedirectMode,
		SupportEmail:         cfg.Server.SupportEmail,
		TrackingTimeout:      cfg.Server.Tracking.Timeout,
	})
	return &application{pipeline: pipe, recorder: recorder, env: env}, nil
}

// buildStore picks the configured backend. A backend that cannot be reached
// at startup degrades to the memory store rather than refusing to serve.
func buildStore(logger *slog.Logger, cfg config.ServerCacheConfig) cache.Store {
	var store cache.Store
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory page cache")
		store = cache.NewMemory()
	case "redis":
		redisStore, err := cache.NewRedis(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
			Namespace: cacheNamespace(cfg),
		})
		if err != nil {
			logger.Error("redis cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			store = cache.NewMemory()
			break
		}
		logger.Info("using redis page cache", slog.String("address", cfg.Redis.Address))
		store = redisStore
	case "bolt":
		boltStore, err := cache.NewBolt(cfg.Bolt.Path)
		if err != nil {
			logger.Error("bolt cache initialization failed", slog.String("path", cfg.Bolt.Path), slog.Any("error", err))
			logger.Info("falling back to memory cache")
			store = cache.NewMemory()
			break
		}
		logger.Info("using bolt page cache", slog.String("path", cfg.Bolt.Path))
		store = boltStore
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		store = cache.NewMemory()
	}

	if !cfg.Compress {
		return store
	}
	compressed, err := cache.NewCompressed(store)
	if err != nil {
		logger.Warn("page compression unavailable", slog.Any("error", err))
		return store
	}
	return compressed
}

func cacheNamespace(cfg config.ServerCacheConfig) string {
	if ns := strings.TrimSpace(cfg.Namespace); ns != "" {
		return ns
	}
	return "frontproxy"
}
