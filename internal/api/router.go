// internal/api/router.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/participadf/ouvidoria/internal/utils"
)

const (
	chatBodyLimit = 1 << 20
	// multipart framing and text fields on top of the three attachments
	formOverhead = 1 << 20
)

// RouterConfig carries the dependencies and limits of the HTTP surface.
type RouterConfig struct {
	Iza            ChatService
	Generator      GeneratorProbe
	Manifestations ManifestationAPI
	Readiness      ReadinessChecker
	Stats          StatsReporter
	WebSockets     *WebSocketManager
	Metrics        *utils.APIMetrics
	Logger         *utils.Logger

	CORSOrigins    []string
	MaxFileBytes   int64
	ChatRateLimit  int
	ChatRateWindow time.Duration
	RuleSet        string
	DebugMode      bool
}

// SetupRouter builds the gin engine.
func SetupRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = utils.GetLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = utils.NewAPIMetrics(nil, cfg.Logger)
	}
	if cfg.WebSockets == nil {
		cfg.WebSockets = NewWebSocketManager(cfg.Metrics, cfg.Logger)
	}
	if cfg.ChatRateWindow <= 0 {
		cfg.ChatRateWindow = time.Minute
	}

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	rh := NewResponseHelper(cfg.Logger)
	h := &Handler{
		Iza:            cfg.Iza,
		Generator:      cfg.Generator,
		Manifestations: cfg.Manifestations,
		Readiness:      cfg.Readiness,
		Stats:          cfg.Stats,
		WebSockets:     cfg.WebSockets,
		Metrics:        cfg.Metrics,
		Response:       rh,
		Logger:         cfg.Logger,
		RuleSet:        cfg.RuleSet,
		upgrader:       newUpgrader(cfg.CORSOrigins),
	}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(rh, cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))
	r.Use(CORSMiddleware(cfg.CORSOrigins))

	limiter := NewRateLimiter()
	chatLimit := RateLimitByIP(limiter, rh, cfg.ChatRateLimit, cfg.ChatRateWindow)

	api := r.Group("/api")
	{
		api.GET("/health", h.Health)
		api.GET("/health/ready", h.Ready)
		api.GET("/metrics", h.GetMetrics)
		if cfg.Stats != nil {
			api.GET("/stats", h.GetStats)
		}

		iza := api.Group("/iza")
		{
			iza.POST("/chat", chatLimit, BodyLimitMiddleware(chatBodyLimit), h.IzaChat)
			iza.GET("/health", h.IzaHealth)
		}

		manifestations := api.Group("/manifestations")
		{
			manifestations.POST("", BodyLimitMiddleware(3*cfg.MaxFileBytes+formOverhead), h.CreateManifestation)
			manifestations.GET("/:protocol", h.GetManifestation)
			manifestations.GET("/:protocol/files/:filename", h.DownloadAttachment)
		}
	}

	r.GET("/ws/iza", chatLimit, h.IzaWebSocket)

	r.NoRoute(func(c *gin.Context) {
		rh.NotFound(c, "", "Rota não encontrada.")
	})

	return r
}
