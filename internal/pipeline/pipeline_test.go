package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceindex/internal/cluster"
	"github.com/your-org/faceindex/internal/models"
	"github.com/your-org/faceindex/internal/sampler"
	"github.com/your-org/faceindex/internal/storage"
	"github.com/your-org/faceindex/internal/vision"
)

// --- fakes ---

type fakeStore struct {
	mu      sync.Mutex
	status  map[uuid.UUID]models.VideoStatus
	faces   []models.FaceInstance
	persons []models.Person

	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{status: make(map[uuid.UUID]models.VideoStatus)}
}

func (s *fakeStore) UpdateVideoStatus(_ context.Context, id uuid.UUID, status models.VideoStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = status
	return nil
}

func (s *fakeStore) UpdateVideoMetadata(context.Context, uuid.UUID, float64, float64, int, int) error {
	return nil
}

func (s *fakeStore) InsertFrameFaces(_ context.Context, faces []models.FaceInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.faces = append(s.faces, faces...)
	return nil
}

func (s *fakeStore) LoadFaceVectors(_ context.Context, videoID uuid.UUID) ([]storage.FaceVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.FaceVector
	for _, f := range s.faces {
		if f.VideoID != videoID {
			continue
		}
		out = append(out, storage.FaceVector{
			FaceID:       f.ID,
			PersonID:     f.PersonID,
			Embedding:    f.Embedding,
			ThumbnailRef: f.ThumbnailRef,
		})
	}
	return out, nil
}

func (s *fakeStore) ListPersonsByVideo(_ context.Context, videoID uuid.UUID) ([]models.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Person
	for _, p := range s.persons {
		if p.VideoID == videoID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) ApplyClustering(_ context.Context, videoID uuid.UUID, newPersons []models.Person,
	assignments map[uuid.UUID]uuid.UUID, unassigned []uuid.UUID, pruneUnassigned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.persons = append(s.persons, newPersons...)

	for i := range s.faces {
		f := &s.faces[i]
		if pid, ok := assignments[f.ID]; ok {
			id := pid
			f.PersonID = &id
		}
	}
	drop := make(map[uuid.UUID]bool)
	for _, id := range unassigned {
		if pruneUnassigned {
			drop[id] = true
		} else {
			for i := range s.faces {
				if s.faces[i].ID == id {
					s.faces[i].PersonID = nil
				}
			}
		}
	}
	if len(drop) > 0 {
		kept := s.faces[:0]
		for _, f := range s.faces {
			if !drop[f.ID] {
				kept = append(kept, f)
			}
		}
		s.faces = kept
	}

	counts := make(map[uuid.UUID]int)
	for _, f := range s.faces {
		if f.PersonID != nil {
			counts[*f.PersonID]++
		}
	}
	keptPersons := s.persons[:0]
	for _, p := range s.persons {
		if p.VideoID != videoID {
			keptPersons = append(keptPersons, p)
			continue
		}
		if n := counts[p.ID]; n > 0 {
			p.FaceCount = n
			keptPersons = append(keptPersons, p)
		}
	}
	s.persons = keptPersons
	return nil
}

func (s *fakeStore) videoStatus(id uuid.UUID) models.VideoStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

func (s *fakeStore) faceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.faces)
}

type fakeFrames struct {
	meta     *sampler.Metadata
	probeErr error
	frames   []sampler.Frame
	skipped  int
	// gate, when set, must yield one token per frame; lets tests pause a
	// run mid-stream.
	gate chan struct{}

	mu          sync.Mutex
	lastROI     models.Rect
	sampleCalls int
}

func (f *fakeFrames) Probe(context.Context, string) (*sampler.Metadata, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.meta, nil
}

func (f *fakeFrames) Sample(ctx context.Context, _ string, _ *sampler.Metadata, roi models.Rect, _ int, fn sampler.FrameFunc) (int, error) {
	f.mu.Lock()
	f.lastROI = roi
	f.sampleCalls++
	f.mu.Unlock()

	for _, fr := range f.frames {
		if f.gate != nil {
			select {
			case <-ctx.Done():
				return f.skipped, ctx.Err()
			case <-f.gate:
			}
		}
		if ctx.Err() != nil {
			return f.skipped, ctx.Err()
		}
		if err := fn(fr); err != nil {
			return f.skipped, err
		}
	}
	return f.skipped, nil
}

type fakeDetector struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, img image.Image) ([]vision.Face, error)
}

func (d *fakeDetector) DetectAndEncode(img image.Image) ([]vision.Face, error) {
	d.mu.Lock()
	call := d.calls
	d.calls++
	d.mu.Unlock()
	return d.fn(call, img)
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (b *fakeBlobs) PutObject(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (s *fakeSink) PublishProgress(_ context.Context, _ string, ev interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev.(models.ProgressEvent))
	return nil
}

func (s *fakeSink) all() []models.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ProgressEvent, len(s.events))
	copy(out, s.events)
	return out
}

// --- helpers ---

func embed(v float32) []float32 {
	out := make([]float32, 128)
	for i := range out {
		out[i] = v
	}
	return out
}

func testFrames(n, stride int) []sampler.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 640, 360))
	frames := make([]sampler.Frame, n)
	for i := range frames {
		frames[i] = sampler.Frame{Index: i * stride, Timestamp: float64(i * stride) / 30.0, Image: img}
	}
	return frames
}

func newTestPipeline(st *fakeStore, fr *fakeFrames, det *fakeDetector, sink *fakeSink) *Pipeline {
	return &Pipeline{
		store:       st,
		blobs:       newFakeBlobs(),
		det:         det,
		frames:      fr,
		sink:        sink,
		stride:      15,
		minFaceSize: 40,
		params:      cluster.Params{Eps: 0.5, MinSamples: 2},
		noisePolicy: cluster.NoiseUnassigned,
	}
}

func assertProgressContract(t *testing.T, events []models.ProgressEvent) {
	t.Helper()
	require.NotEmpty(t, events)
	terminals := 0
	last := -1
	for i, ev := range events {
		assert.GreaterOrEqual(t, ev.Percent, last, "percent regressed at event %d", i)
		last = ev.Percent
		if ev.Terminal {
			terminals++
			assert.Equal(t, len(events)-1, i, "terminal event not last")
		}
	}
	assert.Equal(t, 1, terminals, "expected exactly one terminal event")
}

// --- tests ---

func TestRunEndToEndTwoPersons(t *testing.T) {
	videoID := uuid.New()
	st := newFakeStore()
	fr := &fakeFrames{
		meta:   &sampler.Metadata{Duration: 10, FPS: 30, Width: 640, Height: 360, TotalFrames: 300},
		frames: testFrames(20, 15),
	}
	det := &fakeDetector{fn: func(call int, _ image.Image) ([]vision.Face, error) {
		v := float32(1)
		if call%2 == 1 {
			v = 10
		}
		return []vision.Face{{
			BBox:       models.Rect{X: 10, Y: 10, W: 100, H: 100},
			Embedding:  embed(v),
			Confidence: 0.9,
		}}, nil
	}}
	sink := &fakeSink{}
	runner := NewRunner(newTestPipeline(st, fr, det, sink))

	outcome, err := runner.Process(context.Background(), models.ProcessJob{VideoID: videoID, Path: "a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, outcome)
	assert.Equal(t, models.VideoStatusCompleted, st.videoStatus(videoID))

	require.Equal(t, 20, st.faceCount())
	persons, err := st.ListPersonsByVideo(context.Background(), videoID)
	require.NoError(t, err)
	require.Len(t, persons, 2)
	assert.Equal(t, 10, persons[0].FaceCount)
	assert.Equal(t, 10, persons[1].FaceCount)

	// Every face ends up assigned.
	for _, f := range st.faces {
		assert.NotNil(t, f.PersonID)
	}

	// No region configured: the whole frame was scanned.
	assert.Equal(t, models.Rect{W: 640, H: 360}, fr.lastROI)

	events := sink.all()
	assertProgressContract(t, events)
	final := events[len(events)-1]
	assert.Equal(t, models.OutcomeCompleted, final.Outcome)
	assert.Equal(t, 100, final.Percent)
	require.NotNil(t, final.Summary)
	assert.Equal(t, 20, final.Summary.FramesSampled)
	assert.Equal(t, 20, final.Summary.FacesDetected)
	assert.Equal(t, 2, final.Summary.PersonsFound)
}

func TestRunBusyRejectsSecondRun(t *testing.T) {
	videoID := uuid.New()
	st := newFakeStore()
	gate := make(chan struct{})
	fr := &fakeFrames{
		meta:   &sampler.Metadata{FPS: 30, Width: 640, Height: 360, TotalFrames: 300},
		frames: testFrames(5, 15),
		gate:   gate,
	}
	det := &fakeDetector{fn: func(int, image.Image) ([]vision.Face, error) { return nil, nil }}
	runner := NewRunner(newTestPipeline(st, fr, det, &fakeSink{}))

	done := make(chan models.RunOutcome, 1)
	go func() {
		outcome, _ := runner.Process(context.Background(), models.ProcessJob{VideoID: videoID, Path: "a.mp4"})
		done <- outcome
	}()

	// Wait until the first run is registered.
	require.Eventually(t, func() bool { return runner.ActiveCount() == 1 }, time.Second, time.Millisecond)

	_, err := runner.Process(context.Background(), models.ProcessJob{VideoID: videoID, Path: "a.mp4"})
	assert.ErrorIs(t, err, models.ErrBusy)

	// Release the first run and let it finish; the slot frees up.
	go func() {
		for range testFrames(5, 15) {
			gate <- struct{}{}
		}
	}()
	outcome := <-done
	assert.Equal(t, models.OutcomeCompleted, outcome)
	assert.Zero(t, runner.ActiveCount())
}

func TestCancelRetainsPersistedFaces(t *testing.T) {
	videoID := uuid.New()
	st := newFakeStore()
	gate := make(chan struct{})
	fr := &fakeFrames{
		meta:   &sampler.Metadata{FPS: 30, Width: 640, Height: 360, TotalFrames: 300},
		frames: testFrames(20, 15),
		gate:   gate,
	}
	det := &fakeDetector{fn: func(int, image.Image) ([]vision.Face, error) {
		return []vision.Face{{BBox: models.Rect{W: 100, H: 100}, Embedding: embed(1)}}, nil
	}}
	sink := &fakeSink{}
	runner := NewRunner(newTestPipeline(st, fr, det, sink))

	done := make(chan models.RunOutcome, 1)
	go func() {
		outcome, _ := runner.Process(context.Background(), models.ProcessJob{VideoID: videoID, Path: "a.mp4"})
		done <- outcome
	}()

	// Let five frames through, then cancel.
	for i := 0; i < 5; i++ {
		gate <- struct{}{}
	}
	require.Eventually(t, func() bool { return st.faceCount() == 5 }, time.Second, time.Millisecond)
	require.True(t, runner.Cancel(videoID))

	outcome := <-done
	assert.Equal(t, models.OutcomeCancelled, outcome)
	assert.Equal(t, models.VideoStatusPending, st.videoStatus(videoID))
	assert.Equal(t, 5, st.faceCount())

	events := sink.all()
	assertProgressContract(t, events)
	assert.Equal(t, models.OutcomeCancelled, events[len(events)-1].Outcome)

	assert.False(t, runner.Cancel(videoID), "no run should remain registered")
}

func TestCorruptFramesAreCountedAndSkipped(t *testing.T) {
	videoID := uuid.New()
	st := newFakeStore()
	fr := &fakeFrames{
		meta:    &sampler.Metadata{FPS: 30, Width: 640, Height: 360, TotalFrames: 150},
		frames:  testFrames(8, 15),
		skipped: 2, // undecodable frames reported by the sampler
	}
	det := &fakeDetector{fn: func(call int, _ image.Image) ([]vision.Face, error) {
		if call == 3 {
			return nil, fmt.Errorf("%w: truncated scan", models.ErrCorruptFrame)
		}
		return []vision.Face{{BBox: models.Rect{W: 80, H: 80}, Embedding: embed(1)}}, nil
	}}
	sink := &fakeSink{}
	runner := NewRunner(newTestPipeline(st, fr, det, sink))

	outcome, err := runner.Process(context.Background(), models.ProcessJob{VideoID: videoID, Path: "a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, outcome)

	final := sink.all()[len(sink.all())-1]
	require.NotNil(t, final.Summary)
	assert.Equal(t, 7, final.Summary.FramesSampled)
	assert.Equal(t, 3, final.Summary.FramesSkipped)
	assert.Equal(t, 7, st.faceCount())
}

func TestEmptyROICompletesWithZeroFaces(t *testing.T) {
	videoID := uuid.New()
	st := newFakeStore()
	fr := &fakeFrames{
		meta:   &sampler.Metadata{FPS: 30, Width: 640, Height: 360, TotalFrames: 300},
		frames: testFrames(20, 15),
	}
	det := &fakeDetector{fn: func(int, image.Image) ([]vision.Face, error) {
		t.Fatal("detector must not run for an empty region")
		return nil, nil
	}}
	sink := &fakeSink{}
	runner := NewRunner(newTestPipeline(st, fr, det, sink))

	// Region entirely outside the frame.
	outcome, err := runner.Process(context.Background(), models.ProcessJob{
		VideoID: videoID,
		Path:    "a.mp4",
		ROI:     &models.Rect{X: 10000, Y: 10000, W: 50, H: 50},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, outcome)
	assert.Equal(t, models.VideoStatusCompleted, st.videoStatus(videoID))
	assert.Zero(t, st.faceCount())
	assert.Zero(t, fr.sampleCalls)

	events := sink.all()
	assertProgressContract(t, events)
	assert.Equal(t, 100, events[len(events)-1].Percent)
}

func TestZeroWidthROIAtOriginScansNothing(t *testing.T) {
	// A configured region with no area is honored as configured, not
	// mistaken for "scan the whole frame".
	videoID := uuid.New()
	st := newFakeStore()
	fr := &fakeFrames{
		meta:   &sampler.Metadata{FPS: 30, Width: 640, Height: 360, TotalFrames: 300},
		frames: testFrames(20, 15),
	}
	det := &fakeDetector{fn: func(int, image.Image) ([]vision.Face, error) {
		t.Fatal("detector must not run for an empty region")
		return nil, nil
	}}
	runner := NewRunner(newTestPipeline(st, fr, det, &fakeSink{}))

	outcome, err := runner.Process(context.Background(), models.ProcessJob{
		VideoID: videoID,
		Path:    "a.mp4",
		ROI:     &models.Rect{X: 0, Y: 0, W: 0, H: 360},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, outcome)
	assert.Zero(t, st.faceCount())
	assert.Zero(t, fr.sampleCalls)
}

func TestBoundingBoxesTranslatedToFrameCoordinates(t *testing.T) {
	videoID := uuid.New()
	st := newFakeStore()
	roi := models.Rect{X: 100, Y: 50, W: 400, H: 200}
	fr := &fakeFrames{
		meta:   &sampler.Metadata{FPS: 30, Width: 640, Height: 360, TotalFrames: 30},
		frames: testFrames(2, 15),
	}
	det := &fakeDetector{fn: func(int, image.Image) ([]vision.Face, error) {
		return []vision.Face{{BBox: models.Rect{X: 10, Y: 10, W: 60, H: 60}, Embedding: embed(1)}}, nil
	}}
	runner := NewRunner(newTestPipeline(st, fr, det, &fakeSink{}))

	_, err := runner.Process(context.Background(), models.ProcessJob{VideoID: videoID, Path: "a.mp4", ROI: &roi})
	require.NoError(t, err)

	require.Equal(t, 2, st.faceCount())
	for _, f := range st.faces {
		assert.Equal(t, models.Rect{X: 110, Y: 60, W: 60, H: 60}, f.BBox)
		assert.True(t, roi.Contains(f.BBox), "stored box must lie within the region of interest")
	}
	assert.Equal(t, roi, fr.lastROI)
}

func TestSmallFacesFiltered(t *testing.T) {
	videoID := uuid.New()
	st := newFakeStore()
	fr := &fakeFrames{
		meta:   &sampler.Metadata{FPS: 30, Width: 640, Height: 360, TotalFrames: 15},
		frames: testFrames(1, 15),
	}
	det := &fakeDetector{fn: func(int, image.Image) ([]vision.Face, error) {
		return []vision.Face{
			{BBox: models.Rect{W: 100, H: 100}, Embedding: embed(1)},
			{BBox: models.Rect{W: 100, H: 20}, Embedding: embed(1)}, // short side below threshold
		}, nil
	}}
	runner := NewRunner(newTestPipeline(st, fr, det, &fakeSink{}))

	_, err := runner.Process(context.Background(), models.ProcessJob{VideoID: videoID, Path: "a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, 1, st.faceCount())
}

func TestSourceUnavailableFailsRun(t *testing.T) {
	videoID := uuid.New()
	st := newFakeStore()
	fr := &fakeFrames{probeErr: fmt.Errorf("%w: no such file", models.ErrSourceUnavailable)}
	det := &fakeDetector{fn: func(int, image.Image) ([]vision.Face, error) { return nil, nil }}
	sink := &fakeSink{}
	runner := NewRunner(newTestPipeline(st, fr, det, sink))

	outcome, err := runner.Process(context.Background(), models.ProcessJob{VideoID: videoID, Path: "missing.mp4"})
	assert.Equal(t, models.OutcomeFailed, outcome)
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.Equal(t, models.VideoStatusFailed, st.videoStatus(videoID))

	events := sink.all()
	assertProgressContract(t, events)
	assert.Equal(t, models.OutcomeFailed, events[len(events)-1].Outcome)
}

func TestPersistenceFailureFailsRun(t *testing.T) {
	videoID := uuid.New()
	st := newFakeStore()
	st.insertErr = errors.New("connection refused")
	fr := &fakeFrames{
		meta:   &sampler.Metadata{FPS: 30, Width: 640, Height: 360, TotalFrames: 30},
		frames: testFrames(2, 15),
	}
	det := &fakeDetector{fn: func(int, image.Image) ([]vision.Face, error) {
		return []vision.Face{{BBox: models.Rect{W: 100, H: 100}, Embedding: embed(1)}}, nil
	}}
	sink := &fakeSink{}
	runner := NewRunner(newTestPipeline(st, fr, det, sink))

	outcome, err := runner.Process(context.Background(), models.ProcessJob{VideoID: videoID, Path: "a.mp4"})
	assert.Equal(t, models.OutcomeFailed, outcome)
	assert.Error(t, err)
	assert.Equal(t, models.VideoStatusFailed, st.videoStatus(videoID))
	assert.Equal(t, models.OutcomeFailed, sink.all()[len(sink.all())-1].Outcome)
}

func TestReprocessKeepsPersonIdentities(t *testing.T) {
	// Clustering twice over the same faces maps clusters back onto the
	// persons created the first time instead of inventing new ones.
	videoID := uuid.New()
	st := newFakeStore()
	frames := testFrames(6, 15)
	det := &fakeDetector{fn: func(call int, _ image.Image) ([]vision.Face, error) {
		return []vision.Face{{BBox: models.Rect{W: 100, H: 100}, Embedding: embed(1)}}, nil
	}}
	fr := &fakeFrames{
		meta:   &sampler.Metadata{FPS: 30, Width: 640, Height: 360, TotalFrames: 90},
		frames: frames,
	}
	sink := &fakeSink{}
	p := newTestPipeline(st, fr, det, sink)
	runner := NewRunner(p)

	_, err := runner.Process(context.Background(), models.ProcessJob{VideoID: videoID, Path: "a.mp4"})
	require.NoError(t, err)
	first, err := st.ListPersonsByVideo(context.Background(), videoID)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A later pass adds two more faces of the same identity: the six
	// already-assigned faces hold the majority of the joined cluster.
	fr.frames = testFrames(2, 15)
	_, err = runner.Process(context.Background(), models.ProcessJob{VideoID: videoID, Path: "a.mp4"})
	require.NoError(t, err)
	second, err := st.ListPersonsByVideo(context.Background(), videoID)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 8, second[0].FaceCount)
}
