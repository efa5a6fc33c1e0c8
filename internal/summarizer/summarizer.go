// Package summarizer condenses the unconsumed messages of a channel into a
// digest and records it.
//
// Messages are packed into chunks under a character budget, every chunk is
// summarized by the provider in order, and when more than one chunk exists
// the partial summaries are merged by one extra call.
package summarizer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"github.com/samber/oops"

	"tg_digest/internal/model"
	"tg_digest/internal/provider"
)

// Defaults for a single run.
const (
	DefaultBatchSize = 100
	DefaultBudget    = 10000
)

// ErrNoMessages is returned when a channel has nothing left to summarize.
var ErrNoMessages = errors.New("no new messages")

// MessageSource reads the oldest unconsumed messages of a channel.
type MessageSource interface {
	ListUnconsumed(ctx context.Context, channelID int64, limit int) ([]model.Message, error)
}

// Batch identifies exactly the messages a digest was built from.
type Batch struct {
	ChannelID  int64
	MessageIDs []int64
	RangeStart time.Time
	RangeEnd   time.Time
}

// Result is the outcome of one Summarize call.
type Result struct {
	Digest string
	Batch  Batch
	Chunks int
	Calls  int
	// Failed counts provider calls that were replaced by an error text.
	Failed int
}

// Config tunes batch size and chunk budget. Zero values select the defaults.
type Config struct {
	BatchSize int
	Budget    int
}

// Summarizer runs the chunk, summarize and merge pipeline.
type Summarizer struct {
	store     MessageSource
	completer provider.Completer
	log       *slog.Logger
	batchSize int
	budget    int
}

// New creates a Summarizer.
func New(store MessageSource, completer provider.Completer, cfg Config, log *slog.Logger) *Summarizer {
	return &Summarizer{
		store:     store,
		completer: completer,
		log:       log,
		batchSize: lo.Ternary(cfg.BatchSize > 0, cfg.BatchSize, DefaultBatchSize),
		budget:    lo.Ternary(cfg.Budget > 0, cfg.Budget, DefaultBudget),
	}
}

// Summarize builds a digest of the next batch of unconsumed messages of a
// channel. It writes nothing; the returned Batch is handed to a Recorder.
// A channel without unconsumed messages yields ErrNoMessages.
func (s *Summarizer) Summarize(ctx context.Context, channelID int64) (*Result, error) {
	msgs, err := s.store.ListUnconsumed(ctx, channelID, s.batchSize)
	if err != nil {
		return nil, oops.In("summarizer").With("channel_id", channelID).Wrapf(err, "list unconsumed messages")
	}
	if len(msgs) == 0 {
		return nil, ErrNoMessages
	}

	chunks := Chunk(msgs, s.budget)
	res := &Result{
		Batch:  batchOf(channelID, msgs),
		Chunks: len(chunks),
	}
	s.log.Info("summarizing",
		"channel_id", channelID,
		"messages", len(msgs),
		"chars", textLen(msgs),
		"chunks", len(chunks),
	)

	summaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		summaries = append(summaries, s.complete(ctx, res, chunkPrompt(i, len(chunks), chunkText(chunk))))
	}

	if len(summaries) == 1 {
		res.Digest = summaries[0]
		return res, nil
	}
	res.Digest = s.complete(ctx, res, mergePrompt(summaries))
	return res, nil
}

// complete calls the provider once. A failure is logged and turned into an
// error text that takes the place of the summary.
func (s *Summarizer) complete(ctx context.Context, res *Result, prompt string) string {
	res.Calls++
	text, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		res.Failed++
		s.log.Error("provider call failed", "channel_id", res.Batch.ChannelID, "call", res.Calls, "error", err)
		return degraded(err)
	}
	return text
}

func batchOf(channelID int64, msgs []model.Message) Batch {
	first := lo.MinBy(msgs, func(a, b model.Message) bool { return a.Timestamp.Before(b.Timestamp) })
	last := lo.MaxBy(msgs, func(a, b model.Message) bool { return a.Timestamp.After(b.Timestamp) })
	return Batch{
		ChannelID:  channelID,
		MessageIDs: lo.Map(msgs, func(m model.Message, _ int) int64 { return m.ID }),
		RangeStart: first.Timestamp,
		RangeEnd:   last.Timestamp,
	}
}
