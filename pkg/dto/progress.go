package dto

import "github.com/google/uuid"

// WSProgress is the progress message pushed to WebSocket subscribers. It
// mirrors the events on the PROGRESS stream.
type WSProgress struct {
	VideoID  uuid.UUID `json:"video_id"`
	Percent  int       `json:"percent"`
	Status   string    `json:"status"`
	Terminal bool      `json:"terminal"`
	Outcome  string    `json:"outcome,omitempty"`
	Message  string    `json:"message,omitempty"`
	Summary  *RunStats `json:"summary,omitempty"`
}

type RunStats struct {
	FramesSampled int `json:"frames_sampled"`
	FramesSkipped int `json:"frames_skipped"`
	FacesDetected int `json:"faces_detected"`
	PersonsFound  int `json:"persons_found"`
}
