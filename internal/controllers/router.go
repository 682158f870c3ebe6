package controllers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"networth-api/internal/metrics"
)

// RouterConfig holds the HTTP surface options.
type RouterConfig struct {
	Environment    string
	AllowedOrigins []string
	SkipLogPaths   []string
}

// HealthChecker reports dependency health for /health.
type HealthChecker func() map[string]string

// NewRouter wires middleware and every controller onto a gin engine.
func NewRouter(
	config RouterConfig,
	rates *RatesController,
	performance *PerformanceController,
	health HealthChecker,
	metricsService metrics.MetricsService,
	logger *logrus.Logger,
) *gin.Engine {
	if config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(LogRequests(logger, config.SkipLogPaths))
	if metricsService != nil {
		router.Use(metrics.GinMiddleware(metricsService))
	}
	router.Use(cors.New(corsConfig(config.AllowedOrigins)))

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		deps := map[string]string{}
		if health != nil {
			deps = health()
		}
		for _, s := range deps {
			if s != "ok" {
				status = http.StatusServiceUnavailable
				break
			}
		}
		c.JSON(status, gin.H{
			"status":       http.StatusText(status),
			"service":      "networth-api",
			"timestamp":    time.Now().UTC(),
			"dependencies": deps,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	if rates != nil {
		rates.RegisterRoutes(api.Group("/rates"))
	}
	if performance != nil {
		performance.RegisterRoutes(api.Group("/performance"))
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Length",
			"Content-Type",
			"Authorization",
			"X-Request-ID",
		},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowOrigins = nil
		cfg.AllowAllOrigins = true
	}
	return cfg
}

// LogRequests logs one structured line per request.
func LogRequests(logger *logrus.Logger, skipPaths []string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"request_id": requestid.Get(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"query":      c.Request.URL.RawQuery,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("Request failed")
		case status >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request completed")
		}
	}
}
