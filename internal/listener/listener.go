// Package listener turns inbound channel events into stored messages.
package listener

import (
	"context"
	"log/slog"
	"strings"

	"tg_digest/internal/filter"
	"tg_digest/internal/model"
)

// Outcome describes what the filter did with one event.
type Outcome int

// Possible outcomes of Filter.Handle.
const (
	Stored Outcome = iota
	NoHandle
	NotMonitored
	Suppressed
	Duplicate
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case NoHandle:
		return "no_handle"
	case NotMonitored:
		return "not_monitored"
	case Suppressed:
		return "suppressed"
	case Duplicate:
		return "duplicate"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Monitored resolves a lower-cased handle to a monitored channel id.
type Monitored interface {
	Lookup(handle string) (int64, bool)
}

// MessageSaver persists accepted messages.
type MessageSaver interface {
	SaveMessage(ctx context.Context, msg *model.Message) (bool, error)
}

// Filter decides per event whether to persist it.
type Filter struct {
	registry Monitored
	store    MessageSaver
	rules    *filter.Rules
	log      *slog.Logger
}

// New creates a Filter. rules may be nil to disable content suppression.
func New(registry Monitored, store MessageSaver, rules *filter.Rules, log *slog.Logger) *Filter {
	return &Filter{
		registry: registry,
		store:    store,
		rules:    rules,
		log:      log,
	}
}

// Handle processes one event. It never panics on bad input and never returns
// an error: failures are logged so the caller can move on to the next event.
func (f *Filter) Handle(ctx context.Context, ev model.Event) Outcome {
	handle := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ev.ChatHandle), "@"))
	if handle == "" {
		return NoHandle
	}

	channelID, ok := f.registry.Lookup(handle)
	if !ok {
		return NotMonitored
	}

	if f.rules.Suppressed(ev.Text) {
		f.log.Debug("suppressed boilerplate", "channel", handle, "msg_id", ev.MessageID)
		return Suppressed
	}

	text := ev.Text
	if strings.TrimSpace(text) == "" {
		text = model.MediaPlaceholder
	}

	msg := &model.Message{
		ChannelID: channelID,
		MsgID:     ev.MessageID,
		Sender:    ev.SenderID,
		Text:      text,
		Timestamp: ev.Timestamp,
	}
	inserted, err := f.store.SaveMessage(ctx, msg)
	if err != nil {
		f.log.Error("save message", "channel", handle, "channel_id", channelID, "msg_id", ev.MessageID, "error", err)
		return Failed
	}
	if !inserted {
		f.log.Debug("duplicate message", "channel", handle, "msg_id", ev.MessageID)
		return Duplicate
	}

	f.log.Info("message stored", "channel", handle, "channel_id", channelID, "msg_id", ev.MessageID)
	return Stored
}
