package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/authgate/authgate/internal/app"
	"github.com/authgate/authgate/internal/handlers"
)

func registerMonitoringRoutes(r *gin.Engine, cfg *app.Config) {
	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
		r.GET("/api/health", handlers.Health())
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}
}
