// Package pipeline drives one video through the full processing run:
// probe, sample frames, detect and encode faces, persist each frame,
// cluster the accumulated embeddings and reconcile them into persons.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/your-org/faceindex/internal/cluster"
	"github.com/your-org/faceindex/internal/config"
	"github.com/your-org/faceindex/internal/models"
	"github.com/your-org/faceindex/internal/observability"
	"github.com/your-org/faceindex/internal/sampler"
	"github.com/your-org/faceindex/internal/storage"
	"github.com/your-org/faceindex/internal/vision"
)

// Store is the persistence surface the pipeline writes through.
type Store interface {
	UpdateVideoStatus(ctx context.Context, id uuid.UUID, status models.VideoStatus) error
	UpdateVideoMetadata(ctx context.Context, id uuid.UUID, duration, fps float64, width, height int) error
	InsertFrameFaces(ctx context.Context, faces []models.FaceInstance) error
	LoadFaceVectors(ctx context.Context, videoID uuid.UUID) ([]storage.FaceVector, error)
	ListPersonsByVideo(ctx context.Context, videoID uuid.UUID) ([]models.Person, error)
	ApplyClustering(ctx context.Context, videoID uuid.UUID, newPersons []models.Person,
		assignments map[uuid.UUID]uuid.UUID, unassigned []uuid.UUID, pruneUnassigned bool) error
}

// Detector finds faces in a frame and returns each with its embedding.
type Detector interface {
	DetectAndEncode(img image.Image) ([]vision.Face, error)
}

// FrameSource opens a video and streams sampled frames.
type FrameSource interface {
	Probe(ctx context.Context, path string) (*sampler.Metadata, error)
	Sample(ctx context.Context, path string, meta *sampler.Metadata, roi models.Rect, stride int, fn sampler.FrameFunc) (skipped int, err error)
}

// BlobStore holds face thumbnails.
type BlobStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// ProgressSink receives progress and terminal events.
type ProgressSink interface {
	PublishProgress(ctx context.Context, videoID string, event interface{}) error
}

// ffmpegFrames is the production FrameSource backed by ffprobe/ffmpeg.
type ffmpegFrames struct{}

func (ffmpegFrames) Probe(ctx context.Context, path string) (*sampler.Metadata, error) {
	return sampler.Probe(ctx, path)
}

func (ffmpegFrames) Sample(ctx context.Context, path string, meta *sampler.Metadata, roi models.Rect, stride int, fn sampler.FrameFunc) (int, error) {
	return sampler.New(stride).Run(ctx, path, meta, roi, fn)
}

const thumbnailQuality = 85

// Pipeline executes processing runs. It is safe for concurrent use; per-video
// exclusivity is enforced by the Runner.
type Pipeline struct {
	store  Store
	blobs  BlobStore
	det    Detector
	frames FrameSource
	sink   ProgressSink

	stride      int
	minFaceSize int
	params      cluster.Params
	noisePolicy cluster.NoisePolicy

	// progressInterval throttles non-terminal progress events.
	progressInterval time.Duration
}

// New builds the production pipeline from configuration.
func New(cfg *config.Config, store Store, blobs BlobStore, det Detector, sink ProgressSink) (*Pipeline, error) {
	policy, err := cluster.ParseNoisePolicy(cfg.Clustering.NoisePolicy)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		store:       store,
		blobs:       blobs,
		det:         det,
		frames:      ffmpegFrames{},
		sink:        sink,
		stride:      cfg.Sampling.Stride,
		minFaceSize: cfg.Vision.MinFaceSize,
		params: cluster.Params{
			Eps:        cfg.Clustering.Eps,
			MinSamples: cfg.Clustering.MinSamples,
		},
		noisePolicy:      policy,
		progressInterval: 200 * time.Millisecond,
	}, nil
}

// run executes one processing job to its terminal state. The returned outcome
// is always set; the error carries the failure cause for logging.
func (p *Pipeline) run(ctx context.Context, job models.ProcessJob) (models.RunOutcome, error) {
	em := newEmitter(p.sink, job.VideoID, p.progressInterval)
	log := slog.With("video_id", job.VideoID)

	if err := p.store.UpdateVideoStatus(ctx, job.VideoID, models.VideoStatusProcessing); err != nil {
		return p.fail(em, job.VideoID, fmt.Errorf("mark processing: %w", err))
	}
	em.emit(ctx, 0, "probing")

	summary, err := p.process(ctx, job, em, log)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, models.ErrCancelled) {
			// Cooperative cancel: partial results stay persisted, the
			// video returns to pending so it can be reprocessed.
			bg := context.Background()
			if serr := p.store.UpdateVideoStatus(bg, job.VideoID, models.VideoStatusPending); serr != nil {
				log.Error("reset status after cancel", "error", serr)
			}
			em.terminal(bg, models.OutcomeCancelled, "processing cancelled", summary)
			return models.OutcomeCancelled, nil
		}
		return p.fail(em, job.VideoID, err)
	}

	if err := p.store.UpdateVideoStatus(ctx, job.VideoID, models.VideoStatusCompleted); err != nil {
		return p.fail(em, job.VideoID, fmt.Errorf("mark completed: %w", err))
	}
	em.terminal(ctx, models.OutcomeCompleted,
		fmt.Sprintf("found %d persons in %d faces", summary.PersonsFound, summary.FacesDetected), summary)
	return models.OutcomeCompleted, nil
}

func (p *Pipeline) fail(em *emitter, videoID uuid.UUID, err error) (models.RunOutcome, error) {
	bg := context.Background()
	if serr := p.store.UpdateVideoStatus(bg, videoID, models.VideoStatusFailed); serr != nil {
		slog.Error("mark video failed", "video_id", videoID, "error", serr)
	}
	em.terminal(bg, models.OutcomeFailed, err.Error(), nil)
	return models.OutcomeFailed, err
}

// process runs the detection, clustering and persistence stages and returns
// the run counters. A context.Canceled error means a cooperative cancel.
func (p *Pipeline) process(ctx context.Context, job models.ProcessJob, em *emitter, log *slog.Logger) (*models.RunSummary, error) {
	summary := &models.RunSummary{}

	meta, err := p.frames.Probe(ctx, job.Path)
	if err != nil {
		return summary, err
	}
	if err := p.store.UpdateVideoMetadata(ctx, job.VideoID, meta.Duration, meta.FPS, meta.Width, meta.Height); err != nil {
		return summary, err
	}

	// No configured region means the whole frame; a configured one is
	// clipped to the probed dimensions.
	roi := models.Rect{W: meta.Width, H: meta.Height}
	if job.ROI != nil {
		roi = job.ROI.ClampTo(meta.Width, meta.Height)
	}
	if roi.Empty() {
		// The configured region lies entirely outside the frame. Nothing
		// to detect; the run still completes.
		log.Warn("region of interest is empty after clamping, completing with no faces")
		return summary, nil
	}

	stride := job.Stride
	if stride <= 0 {
		stride = p.stride
	}
	expectedSamples := 1
	if meta.TotalFrames > 0 {
		expectedSamples = (meta.TotalFrames + stride - 1) / stride
		if expectedSamples < 1 {
			expectedSamples = 1
		}
	}

	detectStart := time.Now()
	videoLabel := prometheus.Labels{"video_id": job.VideoID.String()}
	samples := 0

	skipped, err := p.frames.Sample(ctx, job.Path, meta, roi, stride, func(f sampler.Frame) error {
		faces, derr := p.det.DetectAndEncode(f.Image)
		if derr != nil {
			// A frame the detector cannot consume is treated like an
			// undecodable frame: counted and skipped.
			log.Warn("detection failed on frame", "frame", f.Index, "error", derr)
			summary.FramesSkipped++
			observability.FramesSkipped.With(videoLabel).Inc()
			return nil
		}

		instances := make([]models.FaceInstance, 0, len(faces))
		for _, face := range faces {
			if face.BBox.ShortSide() < p.minFaceSize {
				continue
			}

			faceID := uuid.New()
			thumbRef := p.storeThumbnail(ctx, job.VideoID, faceID, f.Image, face.BBox, log)

			instances = append(instances, models.FaceInstance{
				ID:          faceID,
				VideoID:     job.VideoID,
				Timestamp:   f.Timestamp,
				FrameNumber: f.Index,
				// Detection ran on the ROI crop; stored boxes are in
				// original-frame coordinates.
				BBox:         face.BBox.Translate(roi.X, roi.Y),
				Embedding:    face.Embedding,
				ThumbnailRef: thumbRef,
			})
		}

		if err := p.store.InsertFrameFaces(ctx, instances); err != nil {
			return fmt.Errorf("persist frame %d: %w", f.Index, err)
		}

		samples++
		summary.FramesSampled++
		summary.FacesDetected += len(instances)
		observability.FramesSampled.With(videoLabel).Inc()
		observability.FacesDetected.With(videoLabel).Add(float64(len(instances)))

		pct := samples * 80 / max(expectedSamples, samples)
		em.emit(ctx, min(pct, 80), "detecting")
		return nil
	})
	summary.FramesSkipped += skipped
	if err != nil {
		return summary, err
	}
	observability.StageDuration.WithLabelValues("detect").Observe(time.Since(detectStart).Seconds())

	em.emit(ctx, 80, "clustering")
	clusterStart := time.Now()

	vectors, err := p.store.LoadFaceVectors(ctx, job.VideoID)
	if err != nil {
		return summary, err
	}
	if len(vectors) == 0 {
		log.Info("no faces detected, skipping clustering")
		return summary, nil
	}

	embeddings := make([][]float32, len(vectors))
	members := make([]cluster.Member, len(vectors))
	for i, v := range vectors {
		embeddings[i] = v.Embedding
		members[i] = cluster.Member{
			FaceID:       v.FaceID,
			PersonID:     v.PersonID,
			ThumbnailRef: v.ThumbnailRef,
		}
	}
	labels := cluster.Fit(embeddings, p.params)

	existing, err := p.store.ListPersonsByVideo(ctx, job.VideoID)
	if err != nil {
		return summary, err
	}
	res := cluster.Reconcile(job.VideoID, members, labels, existing, p.noisePolicy)
	observability.StageDuration.WithLabelValues("cluster").Observe(time.Since(clusterStart).Seconds())

	em.emit(ctx, 90, "persisting")
	persistStart := time.Now()

	prune := p.noisePolicy == cluster.NoiseDrop
	if err := p.store.ApplyClustering(ctx, job.VideoID, res.NewPersons, res.Assignments, res.Unassigned, prune); err != nil {
		return summary, err
	}
	observability.PersonsCreated.With(videoLabel).Add(float64(len(res.NewPersons)))
	observability.StageDuration.WithLabelValues("persist").Observe(time.Since(persistStart).Seconds())

	personSet := make(map[uuid.UUID]struct{})
	for _, pid := range res.Assignments {
		personSet[pid] = struct{}{}
	}
	summary.PersonsFound = len(personSet)

	log.Info("run finished",
		"frames_sampled", summary.FramesSampled,
		"frames_skipped", summary.FramesSkipped,
		"faces_detected", summary.FacesDetected,
		"persons_found", summary.PersonsFound)
	return summary, nil
}

// storeThumbnail cuts and uploads a face crop. Thumbnails are best effort:
// a failed upload leaves an empty ref and the run continues.
func (p *Pipeline) storeThumbnail(ctx context.Context, videoID, faceID uuid.UUID, frame image.Image, bbox models.Rect, log *slog.Logger) string {
	crop := vision.CropRect(frame, bbox)
	if crop == nil {
		return ""
	}
	key := fmt.Sprintf("videos/%s/faces/%s.jpg", videoID, faceID)
	if err := p.blobs.PutObject(ctx, key, vision.EncodeJPEG(crop, thumbnailQuality), "image/jpeg"); err != nil {
		log.Warn("thumbnail upload failed", "face_id", faceID, "error", err)
		return ""
	}
	return key
}
