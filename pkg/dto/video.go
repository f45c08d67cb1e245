package dto

import "github.com/google/uuid"

// RectDTO is a pixel rectangle used for regions of interest and face boxes.
type RectDTO struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

type ImportVideoRequest struct {
	Path string   `json:"path" binding:"required"`
	ROI  *RectDTO `json:"roi,omitempty"`
}

type StartProcessingRequest struct {
	// Stride overrides the configured sampling stride for this run.
	Stride int `json:"stride,omitempty"`
}

type VideoResponse struct {
	ID        uuid.UUID `json:"id"`
	FilePath  string    `json:"file_path"`
	FileName  string    `json:"file_name"`
	Duration  float64   `json:"duration"`
	FPS       float64   `json:"fps"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	ROI       *RectDTO  `json:"roi,omitempty"`
	Status    string    `json:"status"`
	CreatedAt string    `json:"created_at"`
}
