package summarizer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"tg_digest/internal/model"
)

// ErrBusy is returned when a run for the same channel is already in progress.
var ErrBusy = errors.New("summary already in progress")

// ChannelGetter looks up a channel by id.
type ChannelGetter interface {
	GetChannel(ctx context.Context, id int64) (*model.Channel, error)
}

// Report describes a completed and recorded run.
type Report struct {
	Channel *model.Channel
	Summary *model.Summary
	Result  *Result
}

// Service serializes runs per channel and ties summarizing to recording.
// Each channel is either idle or summarizing; a second request for a
// summarizing channel is rejected with ErrBusy.
type Service struct {
	channels   ChannelGetter
	summarizer *Summarizer
	recorder   *Recorder
	log        *slog.Logger

	mu   sync.Mutex
	busy map[int64]struct{}
}

// NewService creates a Service.
func NewService(channels ChannelGetter, summarizer *Summarizer, recorder *Recorder, log *slog.Logger) *Service {
	return &Service{
		channels:   channels,
		summarizer: summarizer,
		recorder:   recorder,
		log:        log,
		busy:       make(map[int64]struct{}),
	}
}

// RequestSummary summarizes and records the next batch of a channel.
// If ctx is cancelled before the digest is recorded nothing is written.
func (s *Service) RequestSummary(ctx context.Context, channelID int64) (*Report, error) {
	ch, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, oops.In("summarizer").With("channel_id", channelID).Wrapf(err, "get channel")
	}

	if !s.acquire(channelID) {
		return nil, ErrBusy
	}
	defer s.release(channelID)

	res, err := s.summarizer.Summarize(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.log.Warn("summary abandoned", "channel_id", channelID, "error", err)
		return nil, oops.In("summarizer").With("channel_id", channelID).Wrapf(err, "summary interrupted")
	}

	sum, err := s.recorder.Record(ctx, channelID, res.Digest, res.Batch)
	if err != nil {
		return nil, err
	}
	return &Report{Channel: ch, Summary: sum, Result: res}, nil
}

// Busy reports whether a run for the channel is in progress.
func (s *Service) Busy(channelID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.busy[channelID]
	return ok
}

func (s *Service) acquire(channelID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.busy[channelID]; ok {
		return false
	}
	s.busy[channelID] = struct{}{}
	return true
}

func (s *Service) release(channelID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, channelID)
}
