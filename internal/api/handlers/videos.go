package handlers

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceindex/internal/models"
	"github.com/your-org/faceindex/pkg/dto"
)

// VideoStore is the slice of the persistence store the video handlers use.
type VideoStore interface {
	CreateVideo(ctx context.Context, filePath, fileName string, roi *models.Rect) (*models.Video, error)
	GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error)
	ListVideos(ctx context.Context) ([]models.Video, error)
	PurgeVideoData(ctx context.Context, videoID uuid.UUID) error
}

// ThumbnailStore removes stored face crops during a reprocess purge.
type ThumbnailStore interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// JobQueue publishes processing jobs and cancel commands.
type JobQueue interface {
	PublishJob(ctx context.Context, videoID string, data interface{}) error
	PublishCancel(data interface{}) error
}

type VideoHandler struct {
	db       VideoStore
	blobs    ThumbnailStore
	producer JobQueue
}

func NewVideoHandler(db VideoStore, blobs ThumbnailStore, producer JobQueue) *VideoHandler {
	return &VideoHandler{db: db, blobs: blobs, producer: producer}
}

func videoResponse(v *models.Video) dto.VideoResponse {
	resp := dto.VideoResponse{
		ID:        v.ID,
		FilePath:  v.FilePath,
		FileName:  v.FileName,
		Duration:  v.Duration,
		FPS:       v.FPS,
		Width:     v.Width,
		Height:    v.Height,
		Status:    string(v.Status),
		CreatedAt: v.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	if v.ROI != nil {
		resp.ROI = &dto.RectDTO{X: v.ROI.X, Y: v.ROI.Y, W: v.ROI.W, H: v.ROI.H}
	}
	return resp
}

// Import registers a video file for later processing. The region of
// interest defaults to the whole frame when omitted.
func (h *VideoHandler) Import(c *gin.Context) {
	var req dto.ImportVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var roi *models.Rect
	if req.ROI != nil {
		roi = &models.Rect{X: req.ROI.X, Y: req.ROI.Y, W: req.ROI.W, H: req.ROI.H}
		if roi.Empty() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "roi must have positive width and height"})
			return
		}
	}

	video, err := h.db.CreateVideo(c.Request.Context(), req.Path, filepath.Base(req.Path), roi)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, videoResponse(video))
}

func (h *VideoHandler) List(c *gin.Context) {
	videos, err := h.db.ListVideos(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.VideoResponse, 0, len(videos))
	for i := range videos {
		resp = append(resp, videoResponse(&videos[i]))
	}

	c.JSON(http.StatusOK, gin.H{"videos": resp, "total": len(resp)})
}

func (h *VideoHandler) Get(c *gin.Context) {
	video, ok := h.loadVideo(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, videoResponse(video))
}

// Start enqueues a processing run for a pending video. A video being
// processed is busy; a completed or failed one holds results and must go
// through reprocess, which purges them first.
func (h *VideoHandler) Start(c *gin.Context) {
	video, ok := h.loadVideo(c)
	if !ok {
		return
	}
	switch video.Status {
	case models.VideoStatusProcessing:
		c.JSON(http.StatusConflict, gin.H{"error": models.ErrBusy.Error()})
		return
	case models.VideoStatusCompleted, models.VideoStatusFailed:
		c.JSON(http.StatusConflict, gin.H{"error": "video already processed, use reprocess to run it again"})
		return
	}
	if !video.ValidROI() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roi lies outside the video frame"})
		return
	}

	var req dto.StartProcessingRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.enqueue(c, video, req.Stride); err != nil {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "video_id": video.ID})
}

// Cancel requests cooperative cancellation of an in-flight run. Faces
// persisted so far are kept.
func (h *VideoHandler) Cancel(c *gin.Context) {
	video, ok := h.loadVideo(c)
	if !ok {
		return
	}

	cmd := models.CancelCommand{VideoID: video.ID}
	if err := h.producer.PublishCancel(cmd); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancel requested", "video_id": video.ID})
}

// Reprocess discards all persons, faces and thumbnails of a video and
// queues a fresh run.
func (h *VideoHandler) Reprocess(c *gin.Context) {
	video, ok := h.loadVideo(c)
	if !ok {
		return
	}
	if video.Status == models.VideoStatusProcessing {
		c.JSON(http.StatusConflict, gin.H{"error": models.ErrBusy.Error()})
		return
	}
	if !video.ValidROI() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roi lies outside the video frame"})
		return
	}

	if err := h.db.PurgeVideoData(c.Request.Context(), video.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.blobs.DeletePrefix(c.Request.Context(), "videos/"+video.ID.String()+"/"); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.enqueue(c, video, 0); err != nil {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "video_id": video.ID})
}

func (h *VideoHandler) enqueue(c *gin.Context, video *models.Video, stride int) error {
	job := models.ProcessJob{
		VideoID: video.ID,
		Path:    video.FilePath,
		ROI:     video.ROI,
		Stride:  stride,
	}
	if err := h.producer.PublishJob(c.Request.Context(), video.ID.String(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return err
	}
	return nil
}

func (h *VideoHandler) loadVideo(c *gin.Context) (*models.Video, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return nil, false
	}

	video, err := h.db.GetVideo(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if video == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return nil, false
	}
	return video, true
}
