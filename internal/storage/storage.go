// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"tg_digest/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a summary cannot be recorded because some of
	// its messages were consumed by another run in the meantime.
	ErrConflict = errors.New("messages already consumed")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateChannel(ctx context.Context, ch *model.Channel) error
	GetChannel(ctx context.Context, id int64) (*model.Channel, error)
	GetChannelByUsername(ctx context.Context, username string) (*model.Channel, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
	ListMonitoredChannels(ctx context.Context) ([]model.Channel, error)
	SetMonitored(ctx context.Context, id int64, monitored bool) error
	ToggleMonitored(ctx context.Context, id int64) (bool, error)
	DeleteChannel(ctx context.Context, id int64) error

	SaveMessage(ctx context.Context, msg *model.Message) (bool, error)
	ListUnconsumed(ctx context.Context, channelID int64, limit int) ([]model.Message, error)
	ListMessages(ctx context.Context, channelID int64) ([]model.Message, error)

	RecordSummary(ctx context.Context, sum *model.Summary, messageIDs []int64) error
	ListSummaries(ctx context.Context, channelID int64, limit int) ([]model.Summary, error)
	ListRecentSummaries(ctx context.Context, limit int) ([]model.SummaryWithChannel, error)

	Stats(ctx context.Context) (*model.Stats, error)

	MarkSeen(ctx context.Context, channelID int64, guid string) error
	IsSeen(ctx context.Context, channelID int64, guid string) (bool, error)

	Close() error
}
