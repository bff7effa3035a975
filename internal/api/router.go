package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guttosm/coinpulse/internal/middleware"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// RouterOptions tune the global middleware chain.
type RouterOptions struct {
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	Metrics        http.Handler // served at /metrics when set
}

// NewRouter creates a Gin engine with routes configured.
// It receives a Handler instance with all business logic already injected.
//
// Responsibilities:
//   - Registers global middlewares (RequestID, Logger, Recovery, ErrorHandler, RateLimiter).
//   - Bounds every request with RequestTimeout.
//   - Mounts Swagger docs (/swagger/*any) and Prometheus metrics (/metrics).
//   - Configures API v1 routes (/api/v1).
//
// Note:
//   - Health and readiness endpoints (/healthz, /readyz) are registered in app.InitializeApp().
func NewRouter(handler *Handler, opts RouterOptions) *gin.Engine {
	router := gin.New()

	// ─── Middlewares ───────────────────────────────
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.RecoveryMiddleware(),
		middleware.ErrorHandler,
		middleware.RateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		middleware.Timeout(opts.RequestTimeout),
	)

	// ─── Swagger / metrics ────────────────────────
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	// ─── API v1 ───────────────────────────────────
	v1 := router.Group("/api/v1")
	{
		v1.GET("/quotes/:symbol", handler.GetQuote)
		v1.GET("/overview", handler.GetOverview)
		v1.GET("/history", handler.GetHistory)
		v1.GET("/indicators", handler.GetIndicators)
		v1.GET("/symbols", handler.GetSymbols)
		v1.GET("/sources", handler.GetSources)
		v1.GET("/stats", handler.GetStats)
	}

	return router
}
