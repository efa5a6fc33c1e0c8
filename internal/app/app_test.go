package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/do/v2"

	"tg_digest/internal/config"
	"tg_digest/internal/fetcher"
	"tg_digest/internal/httpapi"
	"tg_digest/internal/listener"
	"tg_digest/internal/model"
	"tg_digest/internal/provider"
	"tg_digest/internal/registry"
	"tg_digest/internal/storage"
	"tg_digest/internal/summarizer"
)

func testConfig() *config.Config {
	return &config.Config{
		TelegramBotToken: "tok",
		DatabasePath:     ":memory:",
		HTTPAddr:         ":0",
		RegistryRefresh:  time.Minute,
		BatchSize:        100,
		CharBudget:       10000,
		Provider:         provider.BackendOpenAI,
		OpenAIAPIKey:     "sk-test",
		RSSBridgeURL:     "https://bridge.example/%s",
		RSSPollInterval:  time.Minute,
		SuppressPrefixes: []string{"Пожалуйста, подождите"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSetupResolvesComponents(t *testing.T) {
	injector := Setup(testConfig(), discardLogger())
	t.Cleanup(func() { _ = Shutdown(injector) })

	if _, err := do.Invoke[*summarizer.Service](injector); err != nil {
		t.Fatalf("invoke summarizer service: %v", err)
	}
	if _, err := do.Invoke[*fetcher.Poller](injector); err != nil {
		t.Fatalf("invoke poller: %v", err)
	}
	srv, err := do.Invoke[*httpapi.Server](injector)
	if err != nil {
		t.Fatalf("invoke http server: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if diff := cmp.Diff(http.StatusOK, rec.Code); diff != "" {
		t.Errorf("health status mismatch (-want +got):\n%s", diff)
	}
}

func TestSetupSharesStore(t *testing.T) {
	injector := Setup(testConfig(), discardLogger())
	t.Cleanup(func() { _ = Shutdown(injector) })
	ctx := context.Background()

	store := do.MustInvoke[*storage.SQLite](injector)
	ch := &model.Channel{Username: "news", Title: "News", Monitored: true}
	if err := store.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("create channel: %v", err)
	}

	reg := do.MustInvoke[*registry.Registry](injector)
	if err := reg.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	lis := do.MustInvoke[*listener.Filter](injector)
	got := lis.Handle(ctx, model.Event{ChatHandle: "@news", SenderID: "-100", MessageID: 1, Text: "привет", Timestamp: time.Now()})
	if diff := cmp.Diff(listener.Stored, got); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}

	msgs, err := store.ListUnconsumed(ctx, ch.ID, 10)
	if err != nil {
		t.Fatalf("list unconsumed: %v", err)
	}
	if diff := cmp.Diff(1, len(msgs)); diff != "" {
		t.Errorf("stored message count mismatch (-want +got):\n%s", diff)
	}
}

func TestSetupInvalidProvider(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAIAPIKey = ""
	injector := Setup(cfg, discardLogger())
	t.Cleanup(func() { _ = Shutdown(injector) })

	if _, err := do.Invoke[provider.Completer](injector); err == nil {
		t.Fatal("expected error without provider credentials")
	}
}
