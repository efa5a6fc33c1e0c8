// Package httpapi exposes health, statistics, channel digests and a per-channel
// RSS feed of summaries over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/feeds"
	"github.com/samber/lo"
	"github.com/samber/oops"
	sloghttp "github.com/samber/slog-http"

	"tg_digest/internal/model"
	"tg_digest/internal/storage"
	"tg_digest/internal/summarizer"
)

const (
	recentLimit  = 30
	feedLimit    = 50
	shutdownWait = 10 * time.Second
)

// Store is the read side of storage used by the API.
type Store interface {
	GetChannel(ctx context.Context, id int64) (*model.Channel, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
	ListSummaries(ctx context.Context, channelID int64, limit int) ([]model.Summary, error)
	ListRecentSummaries(ctx context.Context, limit int) ([]model.SummaryWithChannel, error)
	Stats(ctx context.Context) (*model.Stats, error)
}

// Summaries triggers on-demand digests.
type Summaries interface {
	RequestSummary(ctx context.Context, channelID int64) (*summarizer.Report, error)
}

// Server serves the HTTP API.
type Server struct {
	addr      string
	store     Store
	summaries Summaries
	log       *slog.Logger
	handler   http.Handler
}

// New creates a Server listening on addr.
func New(addr string, store Store, summaries Summaries, log *slog.Logger) *Server {
	s := &Server{
		addr:      addr,
		store:     store,
		summaries: summaries,
		log:       log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/channels", s.handleChannels)
	mux.HandleFunc("POST /api/channels/{id}/summary", s.handleSummary)
	mux.HandleFunc("GET /api/summaries", s.handleSummaries)
	mux.HandleFunc("GET /feeds/{id}", s.handleFeed)

	handler := sloghttp.Recovery(mux)
	s.handler = sloghttp.New(log)(handler)
	return s
}

// Handler returns the root handler with logging and recovery applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server starting", "addr", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return oops.In("httpapi").With("addr", s.addr).Wrapf(err, "listen")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.In("httpapi").Wrapf(err, "shutdown")
	}
	return nil
}

type channelJSON struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Title     string    `json:"title"`
	Monitored bool      `json:"monitored"`
	CreatedAt time.Time `json:"created_at"`
}

type summaryJSON struct {
	ID           int64     `json:"id"`
	ChannelID    int64     `json:"channel_id"`
	ChannelTitle string    `json:"channel_title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	RangeStart   time.Time `json:"range_start"`
	RangeEnd     time.Time `json:"range_end"`
	Content      string    `json:"content"`
}

type statsJSON struct {
	Channels          int        `json:"channels"`
	MonitoredChannels int        `json:"monitored_channels"`
	TotalMessages     int        `json:"total_messages"`
	ConsumedMessages  int        `json:"consumed_messages"`
	LastSummaryAt     *time.Time `json:"last_summary_at"`
}

type reportJSON struct {
	Summary summaryJSON `json:"summary"`
	Chunks  int         `json:"chunks"`
	Calls   int         `json:"calls"`
	Failed  int         `json:"failed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.internalError(w, "get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, statsJSON{
		Channels:          st.Channels,
		MonitoredChannels: st.MonitoredChannels,
		TotalMessages:     st.TotalMessages,
		ConsumedMessages:  st.ConsumedMessages,
		LastSummaryAt:     st.LastSummaryAt,
	})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.store.ListChannels(r.Context())
	if err != nil {
		s.internalError(w, "list channels", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(channels, func(ch model.Channel, _ int) channelJSON {
		return channelJSON{
			ID:        ch.ID,
			Username:  ch.Username,
			Title:     ch.Title,
			Monitored: ch.Monitored,
			CreatedAt: ch.CreatedAt,
		}
	}))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rep, err := s.summaries.RequestSummary(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "channel not found")
	case errors.Is(err, summarizer.ErrNoMessages):
		writeError(w, http.StatusNotFound, "no new messages")
	case errors.Is(err, summarizer.ErrBusy):
		writeError(w, http.StatusConflict, "summary already in progress")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "messages already consumed by another summary, retry")
	case err != nil:
		s.internalError(w, "request summary", err)
	default:
		sj := toSummaryJSON(*rep.Summary)
		sj.ChannelTitle = rep.Channel.Title
		writeJSON(w, http.StatusCreated, reportJSON{
			Summary: sj,
			Chunks:  rep.Result.Chunks,
			Calls:   rep.Result.Calls,
			Failed:  rep.Result.Failed,
		})
	}
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("channel"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid channel id")
			return
		}
		sums, err := s.store.ListSummaries(r.Context(), id, recentLimit)
		if err != nil {
			s.internalError(w, "list summaries", err)
			return
		}
		writeJSON(w, http.StatusOK, lo.Map(sums, func(sum model.Summary, _ int) summaryJSON {
			return toSummaryJSON(sum)
		}))
		return
	}

	sums, err := s.store.ListRecentSummaries(r.Context(), recentLimit)
	if err != nil {
		s.internalError(w, "list recent summaries", err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(sums, func(sum model.SummaryWithChannel, _ int) summaryJSON {
		sj := toSummaryJSON(sum.Summary)
		sj.ChannelTitle = sum.ChannelTitle
		return sj
	}))
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ch, err := s.store.GetChannel(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	if err != nil {
		s.internalError(w, "get channel", err)
		return
	}
	sums, err := s.store.ListSummaries(r.Context(), id, feedLimit)
	if err != nil {
		s.internalError(w, "list summaries", err)
		return
	}

	rss, err := SummaryFeed(ch, sums, baseURL(r)).ToRss()
	if err != nil {
		s.internalError(w, "render feed", err)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rss))
}

// SummaryFeed builds an RSS feed whose items are the channel's digests.
func SummaryFeed(ch *model.Channel, sums []model.Summary, base string) *feeds.Feed {
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - сводки", ch.Title),
		Link:        &feeds.Link{Href: fmt.Sprintf("%s/feeds/%d", base, ch.ID)},
		Description: fmt.Sprintf("Сводки канала @%s", ch.Username),
		Author:      &feeds.Author{Name: ch.Username},
		Created:     ch.CreatedAt,
	}
	if len(sums) > 0 {
		feed.Updated = sums[0].CreatedAt
	}
	feed.Items = lo.Map(sums, func(sum model.Summary, _ int) *feeds.Item {
		return &feeds.Item{
			Title: fmt.Sprintf("Сводка %s – %s",
				sum.RangeStart.Format("2006-01-02 15:04"), sum.RangeEnd.Format("15:04")),
			Link:        &feeds.Link{Href: fmt.Sprintf("https://t.me/%s", ch.Username)},
			Description: sum.Content,
			Created:     sum.CreatedAt,
			Id:          fmt.Sprintf("%d-%d", ch.ID, sum.ID),
		}
	})
	return feed
}

func toSummaryJSON(sum model.Summary) summaryJSON {
	return summaryJSON{
		ID:         sum.ID,
		ChannelID:  sum.ChannelID,
		CreatedAt:  sum.CreatedAt,
		RangeStart: sum.RangeStart,
		RangeEnd:   sum.RangeEnd,
		Content:    sum.Content,
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid channel id")
		return 0, false
	}
	return id, true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}
