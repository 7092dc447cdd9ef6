package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/reader-relay/internal/adapter/api/handler"
	"github.com/user/reader-relay/internal/adapter/api/middleware"
	"github.com/user/reader-relay/internal/usecase"
)

// NewAdminRouter creates the HTTP router for the operator surface: health,
// stats and Prometheus metrics. It is served on a separate listener from the
// websocket endpoint.
func NewAdminRouter(statsUseCase *usecase.StatsUseCase, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	statsHandler := handler.NewStatsHandler(statsUseCase, logger)

	mux.HandleFunc("GET /healthz", statsHandler.HealthCheck)
	mux.HandleFunc("GET /stats", statsHandler.GetStats)
	mux.HandleFunc("GET /presence/{userID}", statsHandler.GetUserPresence)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.Logging(logger)(mux)
}
