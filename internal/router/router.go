package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/geomark/dispatch-api/internal/config"
	"github.com/geomark/dispatch-api/internal/handler"
	"github.com/geomark/dispatch-api/internal/middleware"
	"github.com/geomark/dispatch-api/pkg/logger"
)

// Handler registers a route group on the API.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine *gin.Engine
}

func NewRouter(cfg *config.Config, l *logger.Logger, handlers ...Handler) (*Router, error) {
	if err := handler.RegisterValidators(); err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger(l))

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimit.RequestsPerSecond),
			Burst: cfg.RateLimit.Burst,
		})
		engine.Use(limiter.RateLimit())
	}

	h := handler.NewHandler()
	engine.GET("/health", h.HealthCheck)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1")
	for _, hd := range handlers {
		hd.RegisterRoutes(api)
	}

	return &Router{engine: engine}, nil
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
