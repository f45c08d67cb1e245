package models

import "errors"

var (
	// ErrSourceUnavailable means the video source could not be opened.
	// Fatal to a run.
	ErrSourceUnavailable = errors.New("video source unavailable")

	// ErrCorruptFrame means a single frame could not be decoded. The
	// pipeline counts and skips these.
	ErrCorruptFrame = errors.New("corrupt frame")

	// ErrBusy means a run is already active for the video. Rejected before
	// any state change.
	ErrBusy = errors.New("processing already in progress for this video")

	// ErrCancelled means the run was stopped by an explicit cancel request.
	// Partial results stay persisted.
	ErrCancelled = errors.New("processing cancelled")
)
