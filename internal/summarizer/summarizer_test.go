package summarizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tg_digest/internal/model"
	"tg_digest/internal/storage"
)

type mockCompleter struct {
	mu      sync.Mutex
	prompts []string
	respond func(ctx context.Context, prompt string) (string, error)
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	n := len(m.prompts)
	m.mu.Unlock()
	if m.respond != nil {
		return m.respond(ctx, prompt)
	}
	if strings.HasPrefix(prompt, mergeHeader) {
		return "merged", nil
	}
	return fmt.Sprintf("part %d", n), nil
}

func (m *mockCompleter) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedChannel(t *testing.T, store *storage.SQLite, texts ...string) *model.Channel {
	t.Helper()
	ctx := context.Background()
	ch := &model.Channel{Username: "news", Title: "News", Monitored: true}
	if err := store.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	for i, text := range texts {
		addMessage(t, store, ch.ID, int64(i+1), text, base.Add(time.Duration(i)*time.Minute))
	}
	return ch
}

func addMessage(t *testing.T, store *storage.SQLite, channelID, msgID int64, text string, ts time.Time) {
	t.Helper()
	msg := &model.Message{ChannelID: channelID, MsgID: msgID, Sender: "-100", Text: text, Timestamp: ts}
	if _, err := store.SaveMessage(context.Background(), msg); err != nil {
		t.Fatalf("save message: %v", err)
	}
}

func unconsumed(t *testing.T, store *storage.SQLite, channelID int64) int {
	t.Helper()
	msgs, err := store.ListUnconsumed(context.Background(), channelID, 1000)
	if err != nil {
		t.Fatalf("list unconsumed: %v", err)
	}
	return len(msgs)
}

func TestSummarizeThreeLargeMessages(t *testing.T) {
	store := newTestStore(t)
	m := strings.Repeat("а", 4000)
	ch := seedChannel(t, store, m, m, m)
	comp := &mockCompleter{}
	s := New(store, comp, Config{}, discardLogger())

	res, err := s.Summarize(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}

	prompts := comp.calls()
	if diff := cmp.Diff(3, len(prompts)); diff != "" {
		t.Fatalf("provider call count mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(prompts[0], "ЧАСТЬ 1 ИЗ 2") || !strings.Contains(prompts[0], m+"\n"+m) {
		t.Errorf("first prompt should carry part 1 of 2 with two messages")
	}
	if !strings.Contains(prompts[1], "ЧАСТЬ 2 ИЗ 2") {
		t.Errorf("second prompt should carry part 2 of 2")
	}
	if !strings.HasPrefix(prompts[2], mergeHeader) || !strings.HasSuffix(prompts[2], "part 1\npart 2") {
		t.Errorf("third prompt should merge the partial summaries, got %q", prompts[2])
	}

	want := &Result{
		Digest: "merged",
		Batch: Batch{
			ChannelID:  ch.ID,
			MessageIDs: res.Batch.MessageIDs,
			RangeStart: base,
			RangeEnd:   base.Add(2 * time.Minute),
		},
		Chunks: 2,
		Calls:  3,
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(3, len(res.Batch.MessageIDs)); diff != "" {
		t.Errorf("batch size mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(3, unconsumed(t, store, ch.ID)); diff != "" {
		t.Errorf("summarize must not write (-want +got):\n%s", diff)
	}
}

func TestSummarizeSingleChunkSkipsMerge(t *testing.T) {
	store := newTestStore(t)
	ch := seedChannel(t, store, "rates unchanged", "new governor appointed")
	comp := &mockCompleter{respond: func(_ context.Context, prompt string) (string, error) {
		if strings.HasPrefix(prompt, mergeHeader) {
			return "", errors.New("merge must not be called")
		}
		return "verbatim chunk summary", nil
	}}
	s := New(store, comp, Config{}, discardLogger())

	res, err := s.Summarize(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if diff := cmp.Diff("verbatim chunk summary", res.Digest); diff != "" {
		t.Errorf("digest mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, len(comp.calls())); diff != "" {
		t.Errorf("provider call count mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(comp.calls()[0], "rates unchanged\nnew governor appointed") {
		t.Errorf("chunk text should join messages by newline")
	}
}

func TestSummarizeNoMessages(t *testing.T) {
	store := newTestStore(t)
	ch := seedChannel(t, store)
	comp := &mockCompleter{}
	s := New(store, comp, Config{}, discardLogger())

	_, err := s.Summarize(context.Background(), ch.ID)
	if !errors.Is(err, ErrNoMessages) {
		t.Fatalf("expected ErrNoMessages, got %v", err)
	}
	if len(comp.calls()) != 0 {
		t.Errorf("expected no provider calls, got %d", len(comp.calls()))
	}
}

func TestSummarizeRespectsBatchSize(t *testing.T) {
	store := newTestStore(t)
	ch := seedChannel(t, store, "a", "b", "c", "d", "e")
	s := New(store, &mockCompleter{}, Config{BatchSize: 3}, discardLogger())

	res, err := s.Summarize(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if diff := cmp.Diff(3, len(res.Batch.MessageIDs)); diff != "" {
		t.Errorf("batch size mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(base.Add(2*time.Minute), res.Batch.RangeEnd); diff != "" {
		t.Errorf("range end mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarizeProviderFailureDegrades(t *testing.T) {
	store := newTestStore(t)
	m := strings.Repeat("б", 6000)
	ch := seedChannel(t, store, m, m)
	comp := &mockCompleter{respond: func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "ЧАСТЬ 1 ИЗ 2") {
			return "", errors.New("503 service unavailable")
		}
		if strings.HasPrefix(prompt, mergeHeader) {
			return prompt[len(mergeHeader):], nil
		}
		return "second part", nil
	}}
	s := New(store, comp, Config{}, discardLogger())

	res, err := s.Summarize(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("summarize should not fail on provider errors: %v", err)
	}
	if diff := cmp.Diff(1, res.Failed); diff != "" {
		t.Errorf("failed count mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(res.Digest, "Ошибка при генерации сводки: 503 service unavailable\nsecond part") {
		t.Errorf("merge input should carry the error text in place of part 1, got %q", res.Digest)
	}
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ch := seedChannel(t, store, "one", "two")
	s := New(store, &mockCompleter{}, Config{}, discardLogger())
	r := NewRecorder(store, discardLogger())

	res, err := s.Summarize(ctx, ch.ID)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	// Arrives after the batch was read, inside its time range.
	addMessage(t, store, ch.ID, 99, "late", base.Add(30*time.Second))

	sum, err := r.Record(ctx, ch.ID, res.Digest, res.Batch)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if sum.ID == 0 || sum.Content != res.Digest {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if diff := cmp.Diff(1, unconsumed(t, store, ch.ID)); diff != "" {
		t.Errorf("late message must stay unconsumed (-want +got):\n%s", diff)
	}

	if _, err := r.Record(ctx, ch.ID, res.Digest, res.Batch); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("recording the same batch twice should conflict, got %v", err)
	}
	if _, err := r.Record(ctx, ch.ID+1, res.Digest, res.Batch); err == nil {
		t.Error("expected error for a batch of another channel")
	}
	if _, err := r.Record(ctx, ch.ID, "x", Batch{ChannelID: ch.ID}); err == nil {
		t.Error("expected error for an empty batch")
	}
}

func TestServiceRequestSummary(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ch := seedChannel(t, store, "one", "two", "three")
	svc := NewService(store,
		New(store, &mockCompleter{}, Config{}, discardLogger()),
		NewRecorder(store, discardLogger()),
		discardLogger(),
	)

	rep, err := svc.RequestSummary(ctx, ch.ID)
	if err != nil {
		t.Fatalf("request summary: %v", err)
	}
	if diff := cmp.Diff("News", rep.Channel.Title); diff != "" {
		t.Errorf("channel mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("part 1", rep.Summary.Content); diff != "" {
		t.Errorf("content mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(0, unconsumed(t, store, ch.ID)); diff != "" {
		t.Errorf("unconsumed mismatch (-want +got):\n%s", diff)
	}

	if _, err := svc.RequestSummary(ctx, ch.ID); !errors.Is(err, ErrNoMessages) {
		t.Errorf("second run should find nothing new, got %v", err)
	}
	if _, err := svc.RequestSummary(ctx, 404); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown channel should be ErrNotFound, got %v", err)
	}
}

func TestServiceRejectsConcurrentRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ch := seedChannel(t, store, "one")

	entered := make(chan struct{})
	release := make(chan struct{})
	comp := &mockCompleter{respond: func(context.Context, string) (string, error) {
		close(entered)
		<-release
		return "digest", nil
	}}
	svc := NewService(store, New(store, comp, Config{}, discardLogger()), NewRecorder(store, discardLogger()), discardLogger())

	done := make(chan error, 1)
	go func() {
		_, err := svc.RequestSummary(ctx, ch.ID)
		done <- err
	}()

	<-entered
	if !svc.Busy(ch.ID) {
		t.Error("channel should be busy while summarizing")
	}
	if _, err := svc.RequestSummary(ctx, ch.ID); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if svc.Busy(ch.ID) {
		t.Error("channel should be idle after the run")
	}
}

func TestServiceCancelledRunRecordsNothing(t *testing.T) {
	store := newTestStore(t)
	ch := seedChannel(t, store, "one", "two")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	comp := &mockCompleter{respond: func(context.Context, string) (string, error) {
		cancel()
		return "digest", nil
	}}
	svc := NewService(store, New(store, comp, Config{}, discardLogger()), NewRecorder(store, discardLogger()), discardLogger())

	if _, err := svc.RequestSummary(ctx, ch.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if diff := cmp.Diff(2, unconsumed(t, store, ch.ID)); diff != "" {
		t.Errorf("interrupted run must leave messages unconsumed (-want +got):\n%s", diff)
	}
	sums, err := store.ListSummaries(context.Background(), ch.ID, 10)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(sums) != 0 {
		t.Errorf("expected no summaries, got %d", len(sums))
	}
}
