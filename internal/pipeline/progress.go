package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceindex/internal/models"
)

// emitter publishes progress for a single run. Percentages never decrease,
// non-terminal events are rate limited, and exactly one terminal event is
// published per run. Publish failures are logged and swallowed: progress is
// advisory and must not abort a run.
type emitter struct {
	sink     ProgressSink
	videoID  uuid.UUID
	interval time.Duration

	last       int
	lastStatus string
	lastSent   time.Time
	done       bool
}

func newEmitter(sink ProgressSink, videoID uuid.UUID, interval time.Duration) *emitter {
	return &emitter{sink: sink, videoID: videoID, interval: interval, last: -1}
}

// emit publishes a non-terminal progress event. Events that would move
// percent backwards are dropped. Stage transitions always publish; within a
// stage events are throttled to the configured interval (detection emits
// once per frame otherwise).
func (e *emitter) emit(ctx context.Context, percent int, status string) {
	if e.done || percent < e.last {
		return
	}
	now := time.Now()
	if status == e.lastStatus && now.Sub(e.lastSent) < e.interval {
		return
	}

	e.last = percent
	e.lastStatus = status
	e.lastSent = now
	e.publish(ctx, models.ProgressEvent{
		VideoID:   e.videoID,
		Percent:   percent,
		Status:    status,
		Timestamp: now,
	})
}

// terminal publishes the run's final event. Subsequent calls are no-ops.
func (e *emitter) terminal(ctx context.Context, outcome models.RunOutcome, message string, summary *models.RunSummary) {
	if e.done {
		return
	}
	e.done = true

	percent := e.last
	if outcome == models.OutcomeCompleted {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	e.last = percent

	ev := models.ProgressEvent{
		VideoID:   e.videoID,
		Percent:   percent,
		Status:    string(outcome),
		Terminal:  true,
		Outcome:   outcome,
		Message:   message,
		Timestamp: time.Now(),
	}
	if summary != nil {
		ev.Summary = summary
	}
	e.publish(ctx, ev)
}

func (e *emitter) publish(ctx context.Context, ev models.ProgressEvent) {
	if err := e.sink.PublishProgress(ctx, e.videoID.String(), ev); err != nil {
		slog.Warn("publish progress failed", "video_id", e.videoID, "error", err)
	}
}
