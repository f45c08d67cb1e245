package models

import (
	"time"

	"github.com/google/uuid"
)

// Person is a cluster of face instances believed to be the same individual,
// scoped to one video. FaceCount is maintained by the store on every
// mutating operation.
type Person struct {
	ID           uuid.UUID `json:"id" db:"id"`
	VideoID      uuid.UUID `json:"video_id" db:"video_id"`
	ClusterLabel int       `json:"cluster_label" db:"cluster_label"`
	Name         string    `json:"name" db:"name"`
	FaceCount    int       `json:"face_count" db:"face_count"`
	ThumbnailRef string    `json:"thumbnail_ref" db:"thumbnail_ref"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// FaceInstance is one detected face occurrence. PersonID is nil until the
// clusterer assigns it (and stays nil for noise points under the
// "unassigned" policy).
type FaceInstance struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	VideoID      uuid.UUID  `json:"video_id" db:"video_id"`
	PersonID     *uuid.UUID `json:"person_id,omitempty" db:"person_id"`
	Timestamp    float64    `json:"timestamp" db:"timestamp"`
	FrameNumber  int        `json:"frame_number" db:"frame_number"`
	BBox         Rect       `json:"bbox" db:"bbox"`
	Embedding    []float32  `json:"-" db:"embedding"`
	ThumbnailRef string     `json:"thumbnail_ref" db:"thumbnail_ref"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
