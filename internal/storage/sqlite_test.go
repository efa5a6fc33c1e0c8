package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"tg_digest/internal/model"
)

var ignoreChannelTS = cmpopts.IgnoreFields(model.Channel{}, "CreatedAt")
var ignoreSummaryTS = cmpopts.IgnoreFields(model.Summary{}, "CreatedAt")

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedChannel(t *testing.T, s *SQLite, username string, monitored bool) *model.Channel {
	t.Helper()
	ch := &model.Channel{Username: username, Title: username + " title", Monitored: monitored}
	if err := s.CreateChannel(context.Background(), ch); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return ch
}

func seedMessage(t *testing.T, s *SQLite, channelID, msgID int64, text string, ts time.Time) model.Message {
	t.Helper()
	m := model.Message{ChannelID: channelID, MsgID: msgID, Sender: "42", Text: text, Timestamp: ts}
	ok, err := s.SaveMessage(context.Background(), &m)
	if err != nil {
		t.Fatalf("save message: %v", err)
	}
	if !ok {
		t.Fatalf("message %d was not inserted", msgID)
	}
	return m
}

func TestSchemaVersion(t *testing.T) {
	s := newTestDB(t)
	if diff := cmp.Diff(int64(1), s.SchemaVersion()); diff != "" {
		t.Errorf("schema version mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	tests := []struct {
		name  string
		input model.Channel
		want  model.Channel
	}{
		{
			name:  "plain handle",
			input: model.Channel{Username: "news", Title: "News", Monitored: true},
			want:  model.Channel{Username: "news", Title: "News", Monitored: true},
		},
		{
			name:  "handle is normalized",
			input: model.Channel{Username: "@GoLang_Digest", Title: "Go"},
			want:  model.Channel{Username: "golang_digest", Title: "Go"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := tt.input
			if err := s.CreateChannel(ctx, &ch); err != nil {
				t.Fatalf("create: %v", err)
			}
			if ch.ID == 0 {
				t.Fatal("expected non-zero ID")
			}

			got, err := s.GetChannel(ctx, ch.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			want := tt.want
			want.ID = ch.ID
			if diff := cmp.Diff(want, *got, ignoreChannelTS); diff != "" {
				t.Errorf("GetChannel mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetChannelByUsernameIgnoresCase(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	ch := seedChannel(t, s, "News", true)

	got, err := s.GetChannelByUsername(ctx, "@NEWS")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if diff := cmp.Diff(ch.ID, got.ID); diff != "" {
		t.Errorf("channel id mismatch (-want +got):\n%s", diff)
	}

	_, err = s.GetChannelByUsername(ctx, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateUsernameRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	seedChannel(t, s, "news", false)

	err := s.CreateChannel(ctx, &model.Channel{Username: "NEWS", Title: "dup"})
	if err == nil {
		t.Fatal("expected unique constraint error")
	}
}

func TestListMonitoredChannels(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	a := seedChannel(t, s, "alpha", true)
	seedChannel(t, s, "beta", false)
	c := seedChannel(t, s, "gamma", true)

	got, err := s.ListMonitoredChannels(ctx)
	if err != nil {
		t.Fatalf("list monitored: %v", err)
	}
	want := []model.Channel{*a, *c}
	if diff := cmp.Diff(want, got, ignoreChannelTS); diff != "" {
		t.Errorf("ListMonitoredChannels mismatch (-want +got):\n%s", diff)
	}

	all, err := s.ListChannels(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff(3, len(all)); diff != "" {
		t.Errorf("channel count mismatch (-want +got):\n%s", diff)
	}
}

func TestToggleMonitored(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	ch := seedChannel(t, s, "news", false)

	for _, want := range []bool{true, false, true} {
		got, err := s.ToggleMonitored(ctx, ch.ID)
		if err != nil {
			t.Fatalf("toggle: %v", err)
		}
		if got != want {
			t.Errorf("toggle returned %v, want %v", got, want)
		}
	}

	if _, err := s.ToggleMonitored(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing channel, got %v", err)
	}
	if err := s.SetMonitored(ctx, 999, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound from SetMonitored, got %v", err)
	}
}

func TestSaveMessageIgnoresDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	ch := seedChannel(t, s, "news", true)
	seedMessage(t, s, ch.ID, 7, "hello", base)

	dup := model.Message{ChannelID: ch.ID, MsgID: 7, Text: "hello again", Timestamp: base}
	ok, err := s.SaveMessage(ctx, &dup)
	if err != nil {
		t.Fatalf("save duplicate: %v", err)
	}
	if ok {
		t.Error("expected duplicate to be ignored")
	}

	other := seedChannel(t, s, "other", true)
	seedMessage(t, s, other.ID, 7, "same msg id, other channel", base)

	msgs, err := s.ListMessages(ctx, ch.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if diff := cmp.Diff(1, len(msgs)); diff != "" {
		t.Errorf("message count mismatch (-want +got):\n%s", diff)
	}
}

func TestListUnconsumedOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	ch := seedChannel(t, s, "news", true)

	seedMessage(t, s, ch.ID, 3, "third", base.Add(3*time.Minute))
	seedMessage(t, s, ch.ID, 1, "first", base.Add(1*time.Minute))
	seedMessage(t, s, ch.ID, 2, "second", base.Add(2*time.Minute))

	got, err := s.ListUnconsumed(ctx, ch.ID, 2)
	if err != nil {
		t.Fatalf("list unconsumed: %v", err)
	}
	var texts []string
	for _, m := range got {
		texts = append(texts, m.Text)
	}
	if diff := cmp.Diff([]string{"first", "second"}, texts); diff != "" {
		t.Errorf("ListUnconsumed mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordSummaryMarksExactlyGivenMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	ch := seedChannel(t, s, "news", true)
	other := seedChannel(t, s, "other", true)

	m1 := seedMessage(t, s, ch.ID, 1, "one", base)
	m2 := seedMessage(t, s, ch.ID, 2, "two", base.Add(time.Minute))
	late := seedMessage(t, s, ch.ID, 3, "late arrival inside range", base.Add(30*time.Second))
	after := seedMessage(t, s, ch.ID, 4, "after", base.Add(time.Hour))
	foreign := seedMessage(t, s, other.ID, 1, "foreign", base.Add(30*time.Second))

	sum := &model.Summary{
		ChannelID:  ch.ID,
		RangeStart: m1.Timestamp,
		RangeEnd:   m2.Timestamp,
		Content:    "digest",
	}
	if err := s.RecordSummary(ctx, sum, []int64{m1.ID, m2.ID}); err != nil {
		t.Fatalf("record summary: %v", err)
	}
	if sum.ID == 0 {
		t.Fatal("expected summary ID")
	}

	consumed := map[int64]bool{}
	for _, id := range []int64{ch.ID, other.ID} {
		msgs, err := s.ListMessages(ctx, id)
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		for _, m := range msgs {
			consumed[m.ID] = m.Consumed
		}
	}
	want := map[int64]bool{
		m1.ID:      true,
		m2.ID:      true,
		late.ID:    false,
		after.ID:   false,
		foreign.ID: false,
	}
	if diff := cmp.Diff(want, consumed); diff != "" {
		t.Errorf("consumed flags mismatch (-want +got):\n%s", diff)
	}

	sums, err := s.ListSummaries(ctx, ch.ID, 10)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	wantSums := []model.Summary{{ID: sum.ID, ChannelID: ch.ID, RangeStart: m1.Timestamp, RangeEnd: m2.Timestamp, Content: "digest"}}
	if diff := cmp.Diff(wantSums, sums, ignoreSummaryTS); diff != "" {
		t.Errorf("ListSummaries mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordSummaryConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	ch := seedChannel(t, s, "news", true)
	m1 := seedMessage(t, s, ch.ID, 1, "one", base)
	m2 := seedMessage(t, s, ch.ID, 2, "two", base.Add(time.Minute))

	first := &model.Summary{ChannelID: ch.ID, RangeStart: base, RangeEnd: base, Content: "first"}
	if err := s.RecordSummary(ctx, first, []int64{m1.ID}); err != nil {
		t.Fatalf("record first: %v", err)
	}

	second := &model.Summary{ChannelID: ch.ID, RangeStart: base, RangeEnd: m2.Timestamp, Content: "second"}
	err := s.RecordSummary(ctx, second, []int64{m1.ID, m2.ID})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	msgs, err := s.ListUnconsumed(ctx, ch.ID, 10)
	if err != nil {
		t.Fatalf("list unconsumed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != m2.ID {
		t.Errorf("expected only m2 to stay unconsumed, got %+v", msgs)
	}
	sums, err := s.ListSummaries(ctx, ch.ID, 10)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if diff := cmp.Diff(1, len(sums)); diff != "" {
		t.Errorf("summary count mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordSummaryRejectsInvertedRange(t *testing.T) {
	s := newTestDB(t)
	ch := seedChannel(t, s, "news", true)
	sum := &model.Summary{ChannelID: ch.ID, RangeStart: base.Add(time.Hour), RangeEnd: base, Content: "x"}
	if err := s.RecordSummary(context.Background(), sum, nil); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestDeleteChannel(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	ch := seedChannel(t, s, "news", true)
	keep := seedChannel(t, s, "keep", true)

	m1 := seedMessage(t, s, ch.ID, 1, "one", base)
	k1 := seedMessage(t, s, keep.ID, 1, "kept", base)
	if err := s.RecordSummary(ctx, &model.Summary{ChannelID: ch.ID, RangeStart: base, RangeEnd: base, Content: "d"}, []int64{m1.ID}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordSummary(ctx, &model.Summary{ChannelID: keep.ID, RangeStart: base, RangeEnd: base, Content: "k"}, []int64{k1.ID}); err != nil {
		t.Fatalf("record keep: %v", err)
	}
	if err := s.MarkSeen(ctx, ch.ID, "guid-1"); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	if err := s.DeleteChannel(ctx, ch.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.GetChannel(ctx, ch.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected channel to be gone, got %v", err)
	}
	sums, err := s.ListSummaries(ctx, ch.ID, 10)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(sums) != 0 {
		t.Errorf("expected summaries removed, got %d", len(sums))
	}
	msgs, err := s.ListMessages(ctx, ch.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	for _, m := range msgs {
		if m.Consumed {
			t.Errorf("message %d still consumed after channel delete", m.ID)
		}
	}
	seen, err := s.IsSeen(ctx, ch.ID, "guid-1")
	if err != nil {
		t.Fatalf("is seen: %v", err)
	}
	if seen {
		t.Error("expected seen items removed")
	}

	keptSums, err := s.ListSummaries(ctx, keep.ID, 10)
	if err != nil {
		t.Fatalf("list kept summaries: %v", err)
	}
	if diff := cmp.Diff(1, len(keptSums)); diff != "" {
		t.Errorf("other channel summaries touched (-want +got):\n%s", diff)
	}

	if err := s.DeleteChannel(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting missing channel, got %v", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if diff := cmp.Diff(model.Stats{}, *st); diff != "" {
		t.Errorf("empty stats mismatch (-want +got):\n%s", diff)
	}

	ch := seedChannel(t, s, "news", true)
	seedChannel(t, s, "idle", false)
	m1 := seedMessage(t, s, ch.ID, 1, "one", base)
	seedMessage(t, s, ch.ID, 2, "two", base.Add(time.Minute))
	if err := s.RecordSummary(ctx, &model.Summary{ChannelID: ch.ID, RangeStart: base, RangeEnd: base, Content: "d"}, []int64{m1.ID}); err != nil {
		t.Fatalf("record: %v", err)
	}

	st, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.LastSummaryAt == nil {
		t.Fatal("expected LastSummaryAt to be set")
	}
	want := model.Stats{Channels: 2, MonitoredChannels: 1, TotalMessages: 2, ConsumedMessages: 1}
	if diff := cmp.Diff(want, *st, cmpopts.IgnoreFields(model.Stats{}, "LastSummaryAt")); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	recent, err := s.ListRecentSummaries(ctx, 30)
	if err != nil {
		t.Fatalf("recent summaries: %v", err)
	}
	if len(recent) != 1 || recent[0].ChannelTitle != "news title" {
		t.Errorf("unexpected recent summaries: %+v", recent)
	}
}

func TestSeenItems(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	seen, err := s.IsSeen(ctx, 1, "guid")
	if err != nil {
		t.Fatalf("is seen: %v", err)
	}
	if seen {
		t.Fatal("expected unseen")
	}
	for i := 0; i < 2; i++ {
		if err := s.MarkSeen(ctx, 1, "guid"); err != nil {
			t.Fatalf("mark seen: %v", err)
		}
	}
	seen, err = s.IsSeen(ctx, 1, "guid")
	if err != nil {
		t.Fatalf("is seen: %v", err)
	}
	if !seen {
		t.Error("expected seen after MarkSeen")
	}
}
