// Package registry keeps the in-memory set of monitored channel handles.
//
// Readers never lock: every refresh builds a fresh snapshot and publishes it
// with a single atomic pointer swap, so a reader sees either the previous or
// the new set, never a partial one.
package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"tg_digest/internal/model"
)

// DefaultInterval is how often the monitored set is re-read from the store.
const DefaultInterval = 60 * time.Second

// Source lists the channels currently flagged as monitored.
type Source interface {
	ListMonitoredChannels(ctx context.Context) ([]model.Channel, error)
}

type snapshot struct {
	ids      map[string]int64
	loadedAt time.Time
}

// Registry is the monitored-channel set shared by the event filter and the pollers.
type Registry struct {
	src  Source
	log  *slog.Logger
	tick time.Duration
	cur  atomic.Pointer[snapshot]
}

// New creates an empty Registry. Call Refresh or Run to load it.
func New(src Source, log *slog.Logger) *Registry {
	r := &Registry{
		src:  src,
		log:  log,
		tick: DefaultInterval,
	}
	r.cur.Store(&snapshot{ids: map[string]int64{}})
	return r
}

// SetTickInterval overrides the default refresh interval.
func (r *Registry) SetTickInterval(d time.Duration) {
	if d > 0 {
		r.tick = d
	}
}

// Run refreshes once, then on every tick until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	r.refreshLogged(ctx)

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshLogged(ctx)
		}
	}
}

func (r *Registry) refreshLogged(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.log.Error("refresh monitored channels, keeping previous snapshot", "error", err, "size", r.Len())
	}
}

// Refresh re-reads the monitored channels and publishes a new snapshot.
// On error the previous snapshot stays in place.
func (r *Registry) Refresh(ctx context.Context) error {
	channels, err := r.src.ListMonitoredChannels(ctx)
	if err != nil {
		return err
	}

	ids := make(map[string]int64, len(channels))
	for _, ch := range channels {
		ids[strings.ToLower(ch.Username)] = ch.ID
	}
	prev := r.cur.Swap(&snapshot{ids: ids, loadedAt: time.Now()})

	if len(prev.ids) != len(ids) {
		r.log.Info("monitored channels changed", "before", len(prev.ids), "after", len(ids))
	}
	return nil
}

// Contains reports whether handle is in the current snapshot.
func (r *Registry) Contains(handle string) bool {
	_, ok := r.Lookup(handle)
	return ok
}

// Lookup returns the channel id bound to handle in the current snapshot.
func (r *Registry) Lookup(handle string) (int64, bool) {
	id, ok := r.cur.Load().ids[strings.ToLower(handle)]
	return id, ok
}

// Handles returns the handles of the current snapshot in no particular order.
func (r *Registry) Handles() map[string]int64 {
	return lo.Assign(r.cur.Load().ids)
}

// Len returns the size of the current snapshot.
func (r *Registry) Len() int {
	return len(r.cur.Load().ids)
}

// LoadedAt returns when the current snapshot was published; zero before the first refresh.
func (r *Registry) LoadedAt() time.Time {
	return r.cur.Load().loadedAt
}
