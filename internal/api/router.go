package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facerec/internal/api/handlers"
	"github.com/your-org/facerec/internal/api/ws"
	"github.com/your-org/facerec/internal/attendance"
	"github.com/your-org/facerec/internal/auth"
	"github.com/your-org/facerec/internal/gateway"
	"github.com/your-org/facerec/internal/queue"
	"github.com/your-org/facerec/internal/storage"
)

type RouterConfig struct {
	APIKey       string
	DB           *storage.PostgresStore
	Snapshots    *storage.SnapshotStore
	Producer     *queue.Producer
	Hub          *ws.Hub
	Gateway      *gateway.Gateway
	Ledger       *attendance.Ledger
	EmbeddingDim int
	// EmbedFn extracts a face embedding from image bytes (from the ONNX
	// encoder). Nil when the API runs without a local encoder.
	EmbedFn func(imageData []byte) ([]float32, float32, error)
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.Snapshots, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Sightings
	sightingH := handlers.NewSightingHandler(cfg.Gateway)
	v1.POST("/sightings", sightingH.Submit)

	// Persons & embeddings
	personH := handlers.NewPersonHandler(cfg.DB, cfg.Snapshots, cfg.EmbeddingDim)
	personH.EmbedFn = cfg.EmbedFn
	v1.POST("/persons", personH.Enroll)
	v1.GET("/persons", personH.List)
	v1.GET("/persons/:id", personH.Get)
	v1.POST("/persons/:id/embeddings", personH.AddEmbedding)

	// Fingerprints (unknown identities)
	fpH := handlers.NewFingerprintHandler(cfg.DB, cfg.Snapshots)
	v1.GET("/fingerprints/:id", fpH.Get)
	v1.GET("/fingerprints/:id/snapshot", fpH.Snapshot)
	v1.POST("/fingerprints/:id/label", fpH.Label)
	v1.POST("/fingerprints/:id/promote", fpH.Promote)

	// Attendance
	attH := handlers.NewAttendanceHandler(cfg.DB, cfg.Ledger, cfg.Gateway)
	v1.GET("/attendance/daily", attH.Daily)
	v1.GET("/unknowns", attH.Unknowns)
	v1.POST("/attendance/toggle", attH.Toggle)

	return r
}
