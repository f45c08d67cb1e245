package models

import (
	"time"

	"github.com/google/uuid"
)

type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "pending"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// Video is one imported source file together with its region of interest and
// processing state. A nil ROI means no region was configured and the whole
// frame is scanned.
type Video struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	FilePath  string      `json:"file_path" db:"file_path"`
	FileName  string      `json:"file_name" db:"file_name"`
	Duration  float64     `json:"duration" db:"duration"`
	FPS       float64     `json:"fps" db:"fps"`
	Width     int         `json:"width" db:"width"`
	Height    int         `json:"height" db:"height"`
	ROI       *Rect       `json:"roi,omitempty" db:"roi"`
	Status    VideoStatus `json:"status" db:"status"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

// ValidROI reports whether the configured ROI lies within the video's frame
// bounds. An unset ROI is always valid; videos imported before probing (zero
// dimensions) are not checked.
func (v *Video) ValidROI() bool {
	if v.ROI == nil || v.Width == 0 || v.Height == 0 {
		return true
	}
	frame := Rect{X: 0, Y: 0, W: v.Width, H: v.Height}
	return !v.ROI.Empty() && frame.Contains(*v.ROI)
}
