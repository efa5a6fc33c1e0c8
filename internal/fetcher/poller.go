package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"tg_digest/internal/listener"
	"tg_digest/internal/model"
)

// DefaultPollInterval is how often every bridge feed is fetched.
const DefaultPollInterval = 5 * time.Minute

// HandleSource lists the monitored handles and their channel ids.
type HandleSource interface {
	Handles() map[string]int64
}

// EventHandler receives the events produced from bridge items.
type EventHandler interface {
	Handle(ctx context.Context, ev model.Event) listener.Outcome
}

// SeenStore remembers which bridge items were already delivered.
type SeenStore interface {
	IsSeen(ctx context.Context, channelID int64, guid string) (bool, error)
	MarkSeen(ctx context.Context, channelID int64, guid string) error
}

// Poller turns RSS bridge feeds of monitored channels into events.
type Poller struct {
	fetcher  *Fetcher
	handles  HandleSource
	seen     SeenStore
	sink     EventHandler
	template string
	log      *slog.Logger
	tick     time.Duration
}

// NewPoller creates a Poller. template is a bridge URL with one %s verb that
// receives the channel handle, e.g. "https://rsshub.app/telegram/channel/%s".
func NewPoller(f *Fetcher, handles HandleSource, seen SeenStore, sink EventHandler, template string, log *slog.Logger) *Poller {
	return &Poller{
		fetcher:  f,
		handles:  handles,
		seen:     seen,
		sink:     sink,
		template: template,
		log:      log,
		tick:     DefaultPollInterval,
	}
}

// SetTickInterval overrides the default poll interval.
func (p *Poller) SetTickInterval(d time.Duration) {
	p.tick = d
}

// Run polls every monitored channel, then repeats on every tick until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.PollAll(ctx)

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollAll(ctx)
		}
	}
}

// PollAll polls each handle of the current registry snapshot once.
func (p *Poller) PollAll(ctx context.Context) {
	handles := p.handles.Handles()
	names := make([]string, 0, len(handles))
	for h := range handles {
		names = append(names, h)
	}
	sort.Strings(names)

	for _, h := range names {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.Poll(ctx, h, handles[h]); err != nil {
			p.log.Error("poll bridge", "channel", h, "error", err)
		}
	}
}

// Poll fetches the bridge feed of one channel and delivers unseen items,
// oldest first. It returns the number of delivered items.
func (p *Poller) Poll(ctx context.Context, handle string, channelID int64) (int, error) {
	feed, err := p.fetcher.Fetch(ctx, p.FeedURL(handle))
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", handle, err)
	}

	items := append([]*gofeed.Item(nil), feed.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		return itemTime(items[i]).Before(itemTime(items[j]))
	})

	delivered := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		guid := ItemGUID(item)
		seen, err := p.seen.IsSeen(ctx, channelID, guid)
		if err != nil {
			p.log.Error("check seen", "channel", handle, "guid", guid, "error", err)
			continue
		}
		if seen {
			continue
		}

		outcome := p.sink.Handle(ctx, ItemEvent(handle, item))
		if outcome == listener.Failed {
			continue
		}
		delivered++

		if err := p.seen.MarkSeen(ctx, channelID, guid); err != nil {
			p.log.Error("mark seen", "channel", handle, "guid", guid, "error", err)
		}
	}

	if delivered > 0 {
		p.log.Info("bridge items delivered", "channel", handle, "count", delivered)
	}
	return delivered, nil
}

// FeedURL builds the bridge URL of a handle.
func (p *Poller) FeedURL(handle string) string {
	if strings.Contains(p.template, "%s") {
		return fmt.Sprintf(p.template, url.PathEscape(handle))
	}
	return strings.TrimSuffix(p.template, "/") + "/" + url.PathEscape(handle)
}

func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}
