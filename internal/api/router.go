package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceindex/internal/api/handlers"
	"github.com/your-org/faceindex/internal/api/ws"
	"github.com/your-org/faceindex/internal/auth"
	"github.com/your-org/faceindex/internal/queue"
	"github.com/your-org/faceindex/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket progress feed
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Videos
	videoH := handlers.NewVideoHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	v1.POST("/videos", videoH.Import)
	v1.GET("/videos", videoH.List)
	v1.GET("/videos/:id", videoH.Get)
	v1.POST("/videos/:id/process", videoH.Start)
	v1.POST("/videos/:id/cancel", videoH.Cancel)
	v1.POST("/videos/:id/reprocess", videoH.Reprocess)

	// Persons & faces
	personH := handlers.NewPersonHandler(cfg.DB, cfg.MinIO)
	v1.GET("/videos/:id/persons", personH.ListByVideo)
	v1.GET("/persons/:id", personH.Get)
	v1.GET("/persons/:id/faces", personH.ListFaces)
	v1.GET("/persons/:id/thumbnail", personH.Thumbnail)
	v1.PATCH("/persons/:id", personH.Rename)
	v1.POST("/persons/:id/merge", personH.Merge)

	return r
}
