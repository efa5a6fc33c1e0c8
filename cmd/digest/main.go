package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	slogmulti "github.com/samber/slog-multi"

	"tg_digest/internal/app"
	"tg_digest/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	injector := app.Setup(cfg, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runErr := app.Run(ctx, injector)
	if err := app.Shutdown(injector); err != nil {
		log.Error("shutdown", "error", err)
	}
	if runErr != nil {
		log.Error("run", "error", runErr)
		os.Exit(1)
	}

	log.Info("bot stopped")
}

// newLogger writes human-readable logs to stderr at the configured level and
// mirrors errors as JSON to stdout.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	text := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	errs := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(slogmulti.Fanout(text, errs))
}
