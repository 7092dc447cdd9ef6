package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/user/reader-relay/internal/domain"
	"github.com/user/reader-relay/internal/usecase"
)

// StatsHandler serves the operator-facing health and stats endpoints.
type StatsHandler struct {
	uc     *usecase.StatsUseCase
	logger *slog.Logger
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(uc *usecase.StatsUseCase, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{uc: uc, logger: logger}
}

// HealthCheck is a simple liveness endpoint.
func (h *StatsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStats reports queue depths, drain state, presence and sink aggregates.
// GET /stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.uc.GetStats(r.Context())
	if err != nil {
		h.logger.Error("failed to collect stats", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.respondWithJSON(w, http.StatusOK, stats)
}

// GetUserPresence reports one user's online flag and last-seen timestamp.
// GET /presence/{userID}
func (h *StatsHandler) GetUserPresence(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if userID == "" {
		http.Error(w, "userID is required", http.StatusBadRequest)
		return
	}

	record, err := h.uc.UserPresence(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "user has never been seen", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to read user presence", "error", err, "user_id", userID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.respondWithJSON(w, http.StatusOK, record)
}

func (h *StatsHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
