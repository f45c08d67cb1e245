package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/faceindex/internal/models"
	"github.com/your-org/faceindex/internal/observability"
)

// Runner enforces the single-run-per-video rule and routes cancel commands
// to in-flight runs.
type Runner struct {
	pipeline *Pipeline

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
}

func NewRunner(p *Pipeline) *Runner {
	return &Runner{
		pipeline: p,
		active:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Process executes one job to its terminal state. A second job for a video
// that is already running is rejected with ErrBusy before any state change.
func (r *Runner) Process(ctx context.Context, job models.ProcessJob) (models.RunOutcome, error) {
	runCtx, cancel, err := r.register(ctx, job.VideoID)
	if err != nil {
		return "", err
	}
	defer r.unregister(job.VideoID, cancel)

	observability.ActiveRuns.Inc()
	defer observability.ActiveRuns.Dec()

	return r.pipeline.run(runCtx, job)
}

// Cancel requests cooperative cancellation of the run for a video. Returns
// false when no run is active.
func (r *Runner) Cancel(videoID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.active[videoID]
	if ok {
		cancel()
	}
	return ok
}

// ActiveCount returns the number of in-flight runs.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Runner) register(ctx context.Context, videoID uuid.UUID) (context.Context, context.CancelFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.active[videoID]; running {
		return nil, nil, models.ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.active[videoID] = cancel
	return runCtx, cancel, nil
}

func (r *Runner) unregister(videoID uuid.UUID, cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	delete(r.active, videoID)
	r.mu.Unlock()
}
