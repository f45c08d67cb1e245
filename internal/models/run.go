package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessJob is the message published to the JOBS stream to request
// processing of one video. A nil ROI means the whole frame is scanned.
type ProcessJob struct {
	VideoID uuid.UUID `json:"video_id"`
	Path    string    `json:"path"`
	ROI     *Rect     `json:"roi,omitempty"`
	Stride  int       `json:"stride,omitempty"` // 0 = use configured default
}

// RunOutcome is the terminal state of a processing run.
type RunOutcome string

const (
	OutcomeCompleted RunOutcome = "completed"
	OutcomeFailed    RunOutcome = "failed"
	OutcomeCancelled RunOutcome = "cancelled"
)

// ProgressEvent is published to the PROGRESS stream while a run executes.
// Percent is monotonically non-decreasing per run; the terminal event is
// always last and carries the outcome.
type ProgressEvent struct {
	VideoID  uuid.UUID  `json:"video_id"`
	Percent  int        `json:"percent"`
	Status   string     `json:"status"`
	Terminal bool       `json:"terminal"`
	Outcome  RunOutcome `json:"outcome,omitempty"`
	Message  string     `json:"message,omitempty"`
	// Summary is only present on terminal events.
	Summary   *RunSummary `json:"summary,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunSummary aggregates counters reported with the terminal event.
type RunSummary struct {
	FramesSampled int `json:"frames_sampled"`
	FramesSkipped int `json:"frames_skipped"`
	FacesDetected int `json:"faces_detected"`
	PersonsFound  int `json:"persons_found"`
}

// CancelCommand is published on the runs.control subject.
type CancelCommand struct {
	VideoID uuid.UUID `json:"video_id"`
}
