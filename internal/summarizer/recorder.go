package summarizer

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"tg_digest/internal/model"
)

// SummaryWriter stores a summary and marks its messages consumed atomically.
type SummaryWriter interface {
	RecordSummary(ctx context.Context, sum *model.Summary, messageIDs []int64) error
}

// Recorder persists digests produced by a Summarizer.
type Recorder struct {
	store SummaryWriter
	log   *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(store SummaryWriter, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log}
}

// Record inserts the digest as a summary of batch and marks exactly the
// batch's messages consumed. Messages stored after the batch was read stay
// unconsumed even when their timestamp falls inside the batch range.
func (r *Recorder) Record(ctx context.Context, channelID int64, digest string, batch Batch) (*model.Summary, error) {
	errb := oops.In("recorder").With("channel_id", channelID)
	if batch.ChannelID != channelID {
		return nil, errb.With("batch_channel_id", batch.ChannelID).Errorf("batch belongs to another channel")
	}
	if len(batch.MessageIDs) == 0 {
		return nil, errb.Errorf("empty batch")
	}

	sum := &model.Summary{
		ChannelID:  channelID,
		RangeStart: batch.RangeStart,
		RangeEnd:   batch.RangeEnd,
		Content:    digest,
	}
	if err := r.store.RecordSummary(ctx, sum, batch.MessageIDs); err != nil {
		return nil, errb.With("messages", len(batch.MessageIDs)).Wrapf(err, "record summary")
	}

	r.log.Info("summary recorded",
		"channel_id", channelID,
		"summary_id", sum.ID,
		"messages", len(batch.MessageIDs),
		"range_start", sum.RangeStart,
		"range_end", sum.RangeEnd,
	)
	return sum, nil
}
