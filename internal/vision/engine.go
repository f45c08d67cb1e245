package vision

import (
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	"github.com/your-org/faceindex/internal/config"
	"github.com/your-org/faceindex/internal/models"
)

// Engine is the production face detector/encoder: an ONNX detection model
// plus an ONNX embedding model, combined behind a single call.
type Engine struct {
	det *detector
	emb *embedder
}

// NewEngine loads both ONNX models from the configured models directory.
func NewEngine(cfg config.VisionConfig) (*Engine, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "face_embed.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := newDetector(detPath, float32(cfg.DetectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath, "dim", cfg.EmbeddingDim)
	emb, err := newEmbedder(embPath, cfg.EmbeddingDim)
	if err != nil {
		det.close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &Engine{det: det, emb: emb}, nil
}

// DetectAndEncode finds all faces in the image and returns each with its
// embedding. Boxes are in the coordinate space of the given image.
func (e *Engine) DetectAndEncode(img image.Image) ([]Face, error) {
	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()
	if origW == 0 || origH == 0 {
		return nil, nil
	}

	detInput := preprocessForDetection(img, e.det.inputW, e.det.inputH)
	dets, err := e.det.detect(detInput, origW, origH)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	faces := make([]Face, 0, len(dets))
	for _, d := range dets {
		crop := cropBox(img, d.bbox)
		if crop == nil {
			continue
		}

		embInput := preprocessForEmbedding(crop, e.emb.inputW, e.emb.inputH)
		embedding, err := e.emb.extract(embInput)
		if err != nil {
			slog.Warn("embedding extraction failed", "error", err)
			continue
		}

		faces = append(faces, Face{
			BBox: models.Rect{
				X: int(d.bbox[0]),
				Y: int(d.bbox[1]),
				W: int(d.bbox[2] - d.bbox[0]),
				H: int(d.bbox[3] - d.bbox[1]),
			},
			Embedding:  embedding,
			Confidence: d.confidence,
		})
	}

	return faces, nil
}

// EmbeddingDim returns the embedding vector length.
func (e *Engine) EmbeddingDim() int {
	return e.emb.dim
}

// Close releases all ONNX sessions.
func (e *Engine) Close() {
	if e.det != nil {
		e.det.close()
	}
	if e.emb != nil {
		e.emb.close()
	}
}
