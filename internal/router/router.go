package router

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hemolink/donor-api/internal/handler"
	authhandler "github.com/hemolink/donor-api/internal/handler/auth"
	donorhandler "github.com/hemolink/donor-api/internal/handler/donor"
	inventoryhandler "github.com/hemolink/donor-api/internal/handler/inventory"
	requesthandler "github.com/hemolink/donor-api/internal/handler/request"
	"github.com/hemolink/donor-api/internal/middleware"
	"github.com/hemolink/donor-api/pkg/auth"
)

type Config struct {
	Timeout        time.Duration
	RateLimitRPS   int
	RateLimitBurst int
	MetricsPrefix  string
}

type Router struct {
	engine     *gin.Engine
	jwt        auth.JWTService
	h          *handler.Handler
	authH      *authhandler.Handler
	donorH     *donorhandler.Handler
	requestH   *requesthandler.Handler
	inventoryH *inventoryhandler.Handler
	metrics    *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

func NewRouter(
	jwt auth.JWTService,
	h *handler.Handler,
	authH *authhandler.Handler,
	donorH *donorhandler.Handler,
	requestH *requesthandler.Handler,
	inventoryH *inventoryhandler.Handler,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	r := &Router{
		engine:     engine,
		jwt:        jwt,
		h:          h,
		authH:      authH,
		donorH:     donorH,
		requestH:   requestH,
		inventoryH: inventoryH,
		metrics:    initRouterMetrics(config.MetricsPrefix),
	}

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		r.metricsMiddleware(),
		middleware.Timeout(config.Timeout),
	)

	rateLimiter := middleware.NewRateLimiter(config.RateLimitRPS, config.RateLimitBurst)
	engine.Use(rateLimiter.RateLimit())

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	r.setupHealthCheck(api)

	public := api.Group("")
	r.authH.RegisterRoutes(public)
	r.inventoryH.RegisterRoutes(public)

	authed := api.Group("")
	authed.Use(middleware.Auth(r.jwt))

	r.donorH.RegisterRoutes(public, authed)
	r.requestH.RegisterRoutes(public, authed)
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	health := rg.Group("/health")
	{
		health.GET("/live", r.h.LivenessCheck)
		health.GET("/ready", r.h.ReadinessCheck)
		health.GET("/metrics", r.h.MetricsHandler)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics(prefix string) *routerMetrics {
	return &routerMetrics{
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: prefix + "_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()

		c.Next()

		status := fmt.Sprintf("%d", c.Writer.Status())
		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
