package cli

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/colthorp/txcache/internal/api"
	"github.com/colthorp/txcache/internal/cache"
	"github.com/colthorp/txcache/internal/core"
	"github.com/pkg/errors"
)

// appOptions holds the process edges an app is built with: the transport
// to Plaid, where logs go and the clock. Zero fields take the defaults.
type appOptions struct {
	transport func(cfg *core.Config, logger *slog.Logger) api.Transport
	logOutput io.Writer
	now       func() time.Time
}

func (o appOptions) withDefaults() appOptions {
	if o.transport == nil {
		o.transport = func(cfg *core.Config, logger *slog.Logger) api.Transport {
			return api.NewClientFromConfig(cfg, logger)
		}
	}
	if o.logOutput == nil {
		o.logOutput = os.Stderr
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

type appOptionsKey struct{}

// withAppOptions returns a context whose commands build their app with opts.
func withAppOptions(ctx context.Context, opts appOptions) context.Context {
	return context.WithValue(ctx, appOptionsKey{}, opts)
}

func appOptionsFrom(ctx context.Context) appOptions {
	opts, _ := ctx.Value(appOptionsKey{}).(appOptions)
	return opts.withDefaults()
}

// app holds everything a command needs. It is built once per invocation.
type app struct {
	cfg     *core.Config
	logger  *slog.Logger
	loc     *time.Location
	now     func() time.Time
	plaid   *api.PlaidAPI
	store   cache.Store
	manager *cache.Manager
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	opts = opts.withDefaults()

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := core.NewLogger(opts.logOutput, cfg.Verbose, cfg.LogFormat)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	plaid := api.NewPlaidAPI(opts.transport(cfg, logger), api.Options{
		ClientName:  cfg.PlaidClientName,
		RedirectURI: cfg.PlaidRedirectURI,
		Logger:      logger,
	})

	manager := cache.NewManager(plaid, store,
		cache.WithLogger(logger),
		cache.WithMaxParallelFetches(cfg.MaxParallelFetches),
		cache.WithSerializePerUser(cfg.SerializePerUser),
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		loc:     core.GetTZ(cfg.Timezone),
		now:     opts.now,
		plaid:   plaid,
		store:   store,
		manager: manager,
	}, nil
}

// openStore opens the store backend named by cfg.Store.
func openStore(ctx context.Context, cfg *core.Config, logger *slog.Logger) (cache.Store, error) {
	logger.Debug("opening store", "kind", cfg.Store, "path", cfg.ResolvedStorePath())

	switch cfg.Store {
	case core.StoreMemory:
		return cache.NewMemoryStore(), nil
	case core.StoreFilesystem:
		return cache.NewFilesystemStore(cfg.ResolvedStorePath()), nil
	case core.StoreSQLite:
		var trace *log.Logger
		if cfg.Verbose {
			trace = slog.NewLogLogger(logger.Handler(), slog.LevelDebug)
		}
		return cache.NewSQLiteStore(cfg.ResolvedStorePath(), trace)
	case core.StoreFirestore:
		return cache.NewFirestoreStore(ctx, cfg.FirestoreProject)
	}
	return nil, errors.Wrapf(core.ErrInvalidConfig, "unknown store %q", cfg.Store)
}

func (a *app) Close() error {
	return a.store.Close()
}

// today returns the current calendar date in the configured time zone.
func (a *app) today() civil.Date {
	return civil.DateOf(a.now().In(a.loc))
}
