package vision

import (
	"github.com/your-org/faceindex/internal/models"
)

// Face is one detected face: a bounding box in the coordinate space of the
// image handed to the detector, the identity embedding, and the detector's
// confidence. Translating boxes back to original-frame coordinates is the
// caller's job.
type Face struct {
	BBox       models.Rect
	Embedding  []float32
	Confidence float32
}
