// Package scheduler periodically summarizes monitored channels and reports
// the digests to a chat.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tg_digest/internal/bot"
	"tg_digest/internal/model"
	"tg_digest/internal/summarizer"
)

// Sender is the interface for sending Telegram messages.
type Sender interface {
	SendMessage(chatID int64, text string)
}

// ChannelLister lists monitored channels.
type ChannelLister interface {
	ListMonitoredChannels(ctx context.Context) ([]model.Channel, error)
}

// Summaries runs a summary for a channel.
type Summaries interface {
	RequestSummary(ctx context.Context, channelID int64) (*summarizer.Report, error)
}

// Scheduler runs a summary of every monitored channel on each tick.
type Scheduler struct {
	channels  ChannelLister
	summaries Summaries
	sender    Sender
	chatID    int64
	log       *slog.Logger
	tick      time.Duration
}

// New creates a Scheduler that reports digests to chatID every interval.
func New(channels ChannelLister, summaries Summaries, sender Sender, chatID int64, interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		channels:  channels,
		summaries: summaries,
		sender:    sender,
		chatID:    chatID,
		log:       log,
		tick:      interval,
	}
}

// SetTickInterval overrides the summary interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the scheduler loop, blocking until ctx is cancelled. The first
// run happens one interval after start.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.summarizeAll(ctx)
		}
	}
}

func (s *Scheduler) summarizeAll(ctx context.Context) {
	channels, err := s.channels.ListMonitoredChannels(ctx)
	if err != nil {
		s.log.Error("list monitored channels", "error", err)
		return
	}

	sent := 0
	for _, ch := range channels {
		if ctx.Err() != nil {
			return
		}
		if s.summarizeChannel(ctx, ch) {
			sent++
		}
	}
	if sent > 0 {
		s.log.Info("scheduled summaries sent", "count", sent, "chat_id", s.chatID)
	}
}

func (s *Scheduler) summarizeChannel(ctx context.Context, ch model.Channel) bool {
	rep, err := s.summaries.RequestSummary(ctx, ch.ID)
	switch {
	case errors.Is(err, summarizer.ErrNoMessages):
		s.log.Debug("nothing to summarize", "channel_id", ch.ID, "channel", ch.Username)
		return false
	case errors.Is(err, summarizer.ErrBusy):
		s.log.Info("summary already running, skipped", "channel_id", ch.ID)
		return false
	case err != nil:
		s.log.Error("scheduled summary", "channel_id", ch.ID, "channel", ch.Username, "error", err)
		return false
	}

	s.sender.SendMessage(s.chatID, bot.FormatSummary(rep.Channel.Title, rep.Summary))
	return true
}
