package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/racephoto/internal/api/handlers"
	"github.com/your-org/racephoto/internal/api/ws"
	"github.com/your-org/racephoto/internal/auth"
)

type RouterConfig struct {
	APIKey  string
	Photos  handlers.PhotoQuery
	Selfie  handlers.Searcher
	Trigger handlers.ObjectTrigger
	// Presign may be nil; summaries then carry no download URL.
	Presign handlers.Presigner
	URLTTL  time.Duration
	Hub     *ws.Hub
	Checks  map[string]handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")

	// Runner-facing search and galleries
	photoH := handlers.NewPhotoHandler(cfg.Photos, cfg.Selfie, cfg.Presign, cfg.URLTTL)
	v1.POST("/search/selfie", photoH.SearchSelfie)
	v1.GET("/events/:organizer/:event/bibs/:bib/photos", photoH.ByBib)
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Storage webhooks and organizer routes (with auth)
	private := v1.Group("")
	private.Use(auth.APIKeyMiddleware(cfg.APIKey))

	hookH := handlers.NewHookHandler(cfg.Trigger)
	private.POST("/hooks/object-created", hookH.ObjectCreated)
	private.GET("/events/:organizer/:event/photographers/:photographer/photos", photoH.ByPhotographer)

	return r
}
