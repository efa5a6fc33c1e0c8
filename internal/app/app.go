// Package app wires the application components together in a dependency
// injection container and runs them.
package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/do/v2"
	"github.com/samber/oops"

	"tg_digest/internal/bot"
	"tg_digest/internal/config"
	"tg_digest/internal/fetcher"
	"tg_digest/internal/filter"
	"tg_digest/internal/httpapi"
	"tg_digest/internal/listener"
	"tg_digest/internal/provider"
	"tg_digest/internal/registry"
	"tg_digest/internal/scheduler"
	"tg_digest/internal/storage"
	"tg_digest/internal/summarizer"
)

// Setup registers every component in a new injector. Components are built
// lazily on first invocation.
func Setup(cfg *config.Config, log *slog.Logger) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, log)

	do.Provide(injector, func(i do.Injector) (*storage.SQLite, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." && cfg.DatabasePath != ":memory:" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, oops.In("app").With("path", dir).Wrapf(err, "create data directory")
			}
		}
		store, err := storage.NewSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, oops.In("app").With("path", cfg.DatabasePath).Wrapf(err, "open database")
		}
		do.MustInvoke[*slog.Logger](i).Info("database ready", "path", cfg.DatabasePath, "schema_version", store.SchemaVersion())
		return store, nil
	})

	do.Provide(injector, func(i do.Injector) (*registry.Registry, error) {
		cfg := do.MustInvoke[*config.Config](i)
		reg := registry.New(do.MustInvoke[*storage.SQLite](i), do.MustInvoke[*slog.Logger](i))
		reg.SetTickInterval(cfg.RegistryRefresh)
		return reg, nil
	})

	do.Provide(injector, func(i do.Injector) (*filter.Rules, error) {
		cfg := do.MustInvoke[*config.Config](i)
		rules, err := filter.New(cfg.SuppressPrefixes, cfg.SuppressPatterns)
		if err != nil {
			return nil, oops.In("app").Wrapf(err, "compile suppression rules")
		}
		return rules, nil
	})

	do.Provide(injector, func(i do.Injector) (*listener.Filter, error) {
		return listener.New(
			do.MustInvoke[*registry.Registry](i),
			do.MustInvoke[*storage.SQLite](i),
			do.MustInvoke[*filter.Rules](i),
			do.MustInvoke[*slog.Logger](i),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (provider.Completer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		c, err := provider.New(cfg.ProviderConfig())
		if err != nil {
			return nil, oops.In("app").Wrapf(err, "create provider")
		}
		return c, nil
	})

	do.Provide(injector, func(i do.Injector) (*summarizer.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		store := do.MustInvoke[*storage.SQLite](i)
		log := do.MustInvoke[*slog.Logger](i)
		s := summarizer.New(store, do.MustInvoke[provider.Completer](i), summarizer.Config{
			BatchSize: cfg.BatchSize,
			Budget:    cfg.CharBudget,
		}, log)
		return summarizer.NewService(store, s, summarizer.NewRecorder(store, log), log), nil
	})

	do.Provide(injector, func(i do.Injector) (*bot.Bot, error) {
		cfg := do.MustInvoke[*config.Config](i)
		b, err := bot.New(cfg.TelegramBotToken,
			do.MustInvoke[*storage.SQLite](i),
			cfg,
			do.MustInvoke[*listener.Filter](i),
			do.MustInvoke[*summarizer.Service](i),
			do.MustInvoke[*registry.Registry](i),
			do.MustInvoke[*slog.Logger](i),
		)
		if err != nil {
			return nil, oops.In("app").Wrapf(err, "create telegram bot")
		}
		return b, nil
	})

	do.Provide(injector, func(i do.Injector) (*scheduler.Scheduler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return scheduler.New(
			do.MustInvoke[*storage.SQLite](i),
			do.MustInvoke[*summarizer.Service](i),
			do.MustInvoke[*bot.Bot](i),
			cfg.ReportChatID,
			cfg.SummaryInterval,
			do.MustInvoke[*slog.Logger](i),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*fetcher.Poller, error) {
		cfg := do.MustInvoke[*config.Config](i)
		p := fetcher.NewPoller(
			fetcher.New(&http.Client{}),
			do.MustInvoke[*registry.Registry](i),
			do.MustInvoke[*storage.SQLite](i),
			do.MustInvoke[*listener.Filter](i),
			cfg.RSSBridgeURL,
			do.MustInvoke[*slog.Logger](i),
		)
		p.SetTickInterval(cfg.RSSPollInterval)
		return p, nil
	})

	do.Provide(injector, func(i do.Injector) (*httpapi.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return httpapi.New(cfg.HTTPAddr,
			do.MustInvoke[*storage.SQLite](i),
			do.MustInvoke[*summarizer.Service](i),
			do.MustInvoke[*slog.Logger](i),
		), nil
	})

	return injector
}

// Run starts every enabled component and blocks until ctx is cancelled and
// all of them have stopped.
func Run(ctx context.Context, injector do.Injector) error {
	cfg := do.MustInvoke[*config.Config](injector)
	log := do.MustInvoke[*slog.Logger](injector)

	reg, err := do.Invoke[*registry.Registry](injector)
	if err != nil {
		return err
	}
	b, err := do.Invoke[*bot.Bot](injector)
	if err != nil {
		return err
	}

	var runners []func(context.Context)
	if cfg.SummaryInterval > 0 {
		sched, err := do.Invoke[*scheduler.Scheduler](injector)
		if err != nil {
			return err
		}
		runners = append(runners, sched.Run)
	}
	if cfg.RSSBridgeURL != "" {
		poller, err := do.Invoke[*fetcher.Poller](injector)
		if err != nil {
			return err
		}
		runners = append(runners, poller.Run)
	}
	if cfg.HTTPAddr != "" {
		srv, err := do.Invoke[*httpapi.Server](injector)
		if err != nil {
			return err
		}
		runners = append(runners, func(ctx context.Context) {
			if err := srv.Run(ctx); err != nil {
				log.Error("http server", "error", err)
			}
		})
	}

	// Load the registry before any event source starts.
	if err := reg.Refresh(ctx); err != nil {
		return oops.In("app").Wrapf(err, "load channel registry")
	}

	var wg sync.WaitGroup
	wg.Go(func() { reg.Run(ctx) })
	for _, run := range runners {
		wg.Go(func() { run(ctx) })
	}

	log.Info("starting bot",
		"channels", reg.Len(),
		"provider", cfg.Provider,
		"summary_interval", cfg.SummaryInterval,
		"rss_bridge", cfg.RSSBridgeURL != "",
	)
	b.Run(ctx)

	wg.Wait()
	return nil
}

// Shutdown releases resources held by the injector.
func Shutdown(injector do.Injector) error {
	if store, err := do.Invoke[*storage.SQLite](injector); err == nil && store != nil {
		if err := store.Close(); err != nil {
			return oops.In("app").Wrapf(err, "close database")
		}
	}
	return nil
}
