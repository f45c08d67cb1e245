package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceindex/internal/models"
	"github.com/your-org/faceindex/internal/storage"
	"github.com/your-org/faceindex/pkg/dto"
)

type PersonHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
}

func NewPersonHandler(db *storage.PostgresStore, minio *storage.MinIOStore) *PersonHandler {
	return &PersonHandler{db: db, minio: minio}
}

func personResponse(p *models.Person) dto.PersonResponse {
	return dto.PersonResponse{
		ID:           p.ID,
		VideoID:      p.VideoID,
		Name:         p.Name,
		FaceCount:    p.FaceCount,
		ThumbnailRef: p.ThumbnailRef,
		CreatedAt:    p.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// ListByVideo returns the persons found in one video, most faces first.
func (h *PersonHandler) ListByVideo(c *gin.Context) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}

	persons, err := h.db.ListPersonsByVideo(c.Request.Context(), videoID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.PersonResponse, 0, len(persons))
	for i := range persons {
		resp = append(resp, personResponse(&persons[i]))
	}

	c.JSON(http.StatusOK, gin.H{"persons": resp, "total": len(resp)})
}

func (h *PersonHandler) Get(c *gin.Context) {
	person, ok := h.loadPerson(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, personResponse(person))
}

// ListFaces returns every face occurrence of a person in timestamp order,
// for the gallery timeline.
func (h *PersonHandler) ListFaces(c *gin.Context) {
	person, ok := h.loadPerson(c)
	if !ok {
		return
	}

	faces, err := h.db.ListFacesByPerson(c.Request.Context(), person.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.FaceInstanceResponse, 0, len(faces))
	for _, f := range faces {
		resp = append(resp, dto.FaceInstanceResponse{
			ID:           f.ID,
			VideoID:      f.VideoID,
			PersonID:     f.PersonID,
			Timestamp:    f.Timestamp,
			FrameNumber:  f.FrameNumber,
			BBox:         dto.RectDTO{X: f.BBox.X, Y: f.BBox.Y, W: f.BBox.W, H: f.BBox.H},
			ThumbnailRef: f.ThumbnailRef,
			CreatedAt:    f.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	c.JSON(http.StatusOK, gin.H{"faces": resp, "total": len(resp)})
}

func (h *PersonHandler) Rename(c *gin.Context) {
	person, ok := h.loadPerson(c)
	if !ok {
		return
	}

	var req dto.RenamePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.RenamePerson(c.Request.Context(), person.ID, req.Name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	person.Name = req.Name
	c.JSON(http.StatusOK, personResponse(person))
}

// Merge moves all faces of the request's source person into the addressed
// person and deletes the source.
func (h *PersonHandler) Merge(c *gin.Context) {
	person, ok := h.loadPerson(c)
	if !ok {
		return
	}

	var req dto.MergePersonsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.MergePersons(c.Request.Context(), req.SourceID, person.ID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	merged, err := h.db.GetPerson(c.Request.Context(), person.ID)
	if err != nil || merged == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload merged person failed"})
		return
	}
	c.JSON(http.StatusOK, personResponse(merged))
}

// Thumbnail streams the person's representative face crop.
func (h *PersonHandler) Thumbnail(c *gin.Context) {
	person, ok := h.loadPerson(c)
	if !ok {
		return
	}
	if person.ThumbnailRef == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no thumbnail"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), person.ThumbnailRef)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *PersonHandler) loadPerson(c *gin.Context) (*models.Person, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return nil, false
	}

	person, err := h.db.GetPerson(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if person == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return nil, false
	}
	return person, true
}
