// Package model defines the domain types used across the application.
package model

import "time"

// MediaPlaceholder replaces the text of events that carry no text (media, stickers, service posts).
const MediaPlaceholder = "[Медиа или пустое сообщение]"

// Channel represents a Telegram channel that can be monitored.
type Channel struct {
	ID        int64
	Username  string
	Title     string
	Monitored bool
	CreatedAt time.Time
}

// Message is a captured channel post. Only Consumed ever changes after insert.
type Message struct {
	ID        int64
	ChannelID int64
	MsgID     int64
	Sender    string
	Text      string
	Timestamp time.Time
	Consumed  bool
}

// Summary is a digest covering the messages of one summarization run.
type Summary struct {
	ID         int64
	ChannelID  int64
	CreatedAt  time.Time
	RangeStart time.Time
	RangeEnd   time.Time
	Content    string
}

// SummaryWithChannel pairs a summary with the title of its channel for listings.
type SummaryWithChannel struct {
	Summary
	ChannelTitle string
}

// Stats aggregates counters over the whole store.
type Stats struct {
	Channels          int
	MonitoredChannels int
	TotalMessages     int
	ConsumedMessages  int
	LastSummaryAt     *time.Time
}

// Event is a single inbound channel notification as delivered by an event source.
type Event struct {
	ChatHandle string
	SenderID   string
	MessageID  int64
	Text       string
	Timestamp  time.Time
}
