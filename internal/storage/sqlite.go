package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"tg_digest/internal/model"
	"tg_digest/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db      *sql.DB
	version int64
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases on one handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	version, err := migrations.Run(context.Background(), db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, version: version}, nil
}

// SchemaVersion returns the migration version applied when the store was opened.
func (s *SQLite) SchemaVersion() int64 {
	return s.version
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// NormalizeUsername lower-cases a channel handle and strips a leading "@".
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}

// CreateChannel inserts a new channel and populates its ID and CreatedAt.
func (s *SQLite) CreateChannel(ctx context.Context, ch *model.Channel) error {
	ch.Username = NormalizeUsername(ch.Username)
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (username, title, monitored, created_at) VALUES (?, ?, ?, ?)`,
		ch.Username, ch.Title, boolToInt(ch.Monitored), now,
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	ch.ID = id
	ch.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetChannel returns a single channel by its ID.
func (s *SQLite) GetChannel(ctx context.Context, id int64) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, title, monitored, created_at FROM channels WHERE id = ?`, id,
	)
	return scanChannel(row)
}

// GetChannelByUsername returns a channel by its handle, ignoring case.
func (s *SQLite) GetChannelByUsername(ctx context.Context, username string) (*model.Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, title, monitored, created_at FROM channels WHERE username = ?`,
		NormalizeUsername(username),
	)
	return scanChannel(row)
}

// ListChannels returns all channels ordered by title.
func (s *SQLite) ListChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, title, monitored, created_at FROM channels ORDER BY title, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanChannels(rows)
}

// ListMonitoredChannels returns the channels flagged for live capture.
func (s *SQLite) ListMonitoredChannels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, title, monitored, created_at FROM channels WHERE monitored = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query monitored channels: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanChannels(rows)
}

// SetMonitored sets the monitored flag of a channel.
func (s *SQLite) SetMonitored(ctx context.Context, id int64, monitored bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET monitored = ? WHERE id = ?`, boolToInt(monitored), id,
	)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	return expectAffected(res, "channel", id)
}

// ToggleMonitored flips the monitored flag of a channel and returns the new value.
func (s *SQLite) ToggleMonitored(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE channels SET monitored = 1 - monitored WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("toggle channel: %w", err)
	}
	if err := expectAffected(res, "channel", id); err != nil {
		return false, err
	}

	var monitored int
	if err := tx.QueryRowContext(ctx, `SELECT monitored FROM channels WHERE id = ?`, id).Scan(&monitored); err != nil {
		return false, fmt.Errorf("read channel: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return monitored == 1, nil
}

// DeleteChannel removes a channel and its summaries. Its messages are kept but
// reset to unconsumed.
func (s *SQLite) DeleteChannel(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels WHERE id = ?`, id).Scan(&count); err != nil {
		return fmt.Errorf("check channel: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("channel %d: %w", id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET consumed = 0 WHERE channel_id = ?`, id); err != nil {
		return fmt.Errorf("reset messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE channel_id = ?`, id); err != nil {
		return fmt.Errorf("delete summaries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM seen_items WHERE channel_id = ?`, id); err != nil {
		return fmt.Errorf("delete seen_items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	return tx.Commit()
}

// SaveMessage inserts a captured message. It reports false when a message with
// the same (channel, msg_id) already exists.
func (s *SQLite) SaveMessage(ctx context.Context, msg *model.Message) (bool, error) {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (channel_id, msg_id, sender, text, timestamp, consumed)
		 VALUES (?, ?, ?, ?, ?, 0)
		 ON CONFLICT (channel_id, msg_id) DO NOTHING`,
		msg.ChannelID, msg.MsgID, msg.Sender, msg.Text, ts.UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("last insert id: %w", err)
	}
	msg.ID = id
	msg.Timestamp, _ = time.Parse(timeLayout, ts.UTC().Format(timeLayout))
	msg.Consumed = false
	return true, nil
}

// ListUnconsumed returns up to limit unconsumed messages of a channel, oldest first.
func (s *SQLite) ListUnconsumed(ctx context.Context, channelID int64, limit int) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, msg_id, sender, text, timestamp, consumed
		 FROM messages
		 WHERE channel_id = ? AND consumed = 0
		 ORDER BY timestamp, id
		 LIMIT ?`, channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query unconsumed messages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// ListMessages returns all messages of a channel, oldest first.
func (s *SQLite) ListMessages(ctx context.Context, channelID int64) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, msg_id, sender, text, timestamp, consumed
		 FROM messages WHERE channel_id = ? ORDER BY timestamp, id`, channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// RecordSummary inserts a summary and marks exactly the given messages consumed
// in one transaction. If any of them is already consumed the transaction is
// rolled back and ErrConflict is returned.
func (s *SQLite) RecordSummary(ctx context.Context, sum *model.Summary, messageIDs []int64) error {
	if sum.RangeEnd.Before(sum.RangeStart) {
		return fmt.Errorf("invalid summary range %s > %s", sum.RangeStart, sum.RangeEnd)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO summaries (channel_id, created_at, range_start, range_end, content) VALUES (?, ?, ?, ?, ?)`,
		sum.ChannelID, now, sum.RangeStart.UTC().Format(timeLayout), sum.RangeEnd.UTC().Format(timeLayout), sum.Content,
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	if len(messageIDs) > 0 {
		args := make([]any, 0, len(messageIDs)+1)
		args = append(args, sum.ChannelID)
		for _, mid := range messageIDs {
			args = append(args, mid)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messageIDs)), ",")
		res, err := tx.ExecContext(ctx,
			`UPDATE messages SET consumed = 1
			 WHERE channel_id = ? AND consumed = 0 AND id IN (`+placeholders+`)`, args...,
		)
		if err != nil {
			return fmt.Errorf("mark consumed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if int(n) != len(messageIDs) {
			return fmt.Errorf("marked %d of %d messages: %w", n, len(messageIDs), ErrConflict)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	sum.ID = id
	sum.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListSummaries returns the latest summaries of a channel, newest first.
func (s *SQLite) ListSummaries(ctx context.Context, channelID int64, limit int) ([]model.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, created_at, range_start, range_end, content
		 FROM summaries WHERE channel_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ListRecentSummaries returns the latest summaries across all channels, newest first.
func (s *SQLite) ListRecentSummaries(ctx context.Context, limit int) ([]model.SummaryWithChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.channel_id, s.created_at, s.range_start, s.range_end, s.content, c.title
		 FROM summaries s JOIN channels c ON c.id = s.channel_id
		 ORDER BY s.created_at DESC, s.id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.SummaryWithChannel
	for rows.Next() {
		var sc model.SummaryWithChannel
		var created, start, end string
		err := rows.Scan(&sc.ID, &sc.ChannelID, &created, &start, &end, &sc.Content, &sc.ChannelTitle)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sc.CreatedAt, _ = time.Parse(timeLayout, created)
		sc.RangeStart, _ = time.Parse(timeLayout, start)
		sc.RangeEnd, _ = time.Parse(timeLayout, end)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Stats returns message, channel and summary counters.
func (s *SQLite) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM channels),
		   (SELECT COUNT(*) FROM channels WHERE monitored = 1),
		   (SELECT COUNT(*) FROM messages),
		   (SELECT COUNT(*) FROM messages WHERE consumed = 1)`,
	).Scan(&st.Channels, &st.MonitoredChannels, &st.TotalMessages, &st.ConsumedMessages)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM summaries`).Scan(&last); err != nil {
		return nil, fmt.Errorf("query last summary: %w", err)
	}
	if last.Valid {
		t, _ := time.Parse(timeLayout, last.String)
		st.LastSummaryAt = &t
	}
	return &st, nil
}

// MarkSeen records that an RSS bridge item has been processed.
func (s *SQLite) MarkSeen(ctx context.Context, channelID int64, guid string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_items (channel_id, guid, seen_at) VALUES (?, ?, ?)`,
		channelID, guid, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// IsSeen checks whether an RSS bridge item has already been processed.
func (s *SQLite) IsSeen(ctx context.Context, channelID int64, guid string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_items WHERE channel_id = ? AND guid = ?`,
		channelID, guid,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return count > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanChannel(row scannable) (*model.Channel, error) {
	var ch model.Channel
	var monitored int
	var created string
	err := row.Scan(&ch.ID, &ch.Username, &ch.Title, &monitored, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan channel: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	ch.Monitored = monitored == 1
	ch.CreatedAt, _ = time.Parse(timeLayout, created)
	return &ch, nil
}

func scanChannels(rows *sql.Rows) ([]model.Channel, error) {
	var channels []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var ts string
		var consumed int
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.MsgID, &m.Sender, &m.Text, &ts, &consumed); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp, _ = time.Parse(timeLayout, ts)
		m.Consumed = consumed == 1
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanSummary(row scannable) (model.Summary, error) {
	var sum model.Summary
	var created, start, end string
	err := row.Scan(&sum.ID, &sum.ChannelID, &created, &start, &end, &sum.Content)
	if err != nil {
		return sum, fmt.Errorf("scan summary: %w", err)
	}
	sum.CreatedAt, _ = time.Parse(timeLayout, created)
	sum.RangeStart, _ = time.Parse(timeLayout, start)
	sum.RangeEnd, _ = time.Parse(timeLayout, end)
	return sum, nil
}
