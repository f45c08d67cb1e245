package dto

import "github.com/google/uuid"

type PersonResponse struct {
	ID           uuid.UUID `json:"id"`
	VideoID      uuid.UUID `json:"video_id"`
	Name         string    `json:"name"`
	FaceCount    int       `json:"face_count"`
	ThumbnailRef string    `json:"thumbnail_ref,omitempty"`
	CreatedAt    string    `json:"created_at"`
}

type RenamePersonRequest struct {
	Name string `json:"name" binding:"required"`
}

type MergePersonsRequest struct {
	// SourceID is the person whose faces move into the person addressed by
	// the URL. The source is deleted afterwards.
	SourceID uuid.UUID `json:"source_id" binding:"required"`
}

type FaceInstanceResponse struct {
	ID           uuid.UUID  `json:"id"`
	VideoID      uuid.UUID  `json:"video_id"`
	PersonID     *uuid.UUID `json:"person_id,omitempty"`
	Timestamp    float64    `json:"timestamp"`
	FrameNumber  int        `json:"frame_number"`
	BBox         RectDTO    `json:"bbox"`
	ThumbnailRef string     `json:"thumbnail_ref,omitempty"`
	CreatedAt    string     `json:"created_at"`
}
