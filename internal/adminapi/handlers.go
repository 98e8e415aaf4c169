// Copyright 2025 James Ross
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/regulens/ingestion-engine/internal/admin"
	"github.com/regulens/ingestion-engine/internal/coordinator"
	"github.com/regulens/ingestion-engine/internal/model"
	"github.com/regulens/ingestion-engine/internal/storage"
)

// Handler holds the admin API's dependencies: the running coordinator it
// mutates and the storage adapter it queries.
type Handler struct {
	coord    *coordinator.Coordinator
	storage  *storage.Adapter
	natsURL  string
	logger   *zap.Logger
	auditLog *AuditLogger
}

// NewHandler builds a Handler wired to the running engine.
func NewHandler(coord *coordinator.Coordinator, st *storage.Adapter, natsURL string, logger *zap.Logger, auditLog *AuditLogger) *Handler {
	return &Handler{coord: coord, storage: st, natsURL: natsURL, logger: logger, auditLog: auditLog}
}

// ListSources handles GET /api/v1/sources.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	snap := admin.SourcesSnapshot(h.coord)
	out := make([]SourceStateResponse, 0, len(snap))
	for _, s := range snap {
		out = append(out, toSourceStateResponse(s))
	}
	writeJSON(w, http.StatusOK, SourcesResponse{Sources: out, Timestamp: time.Now()})
}

// GetSource handles GET /api/v1/sources/{id}.
func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request, sourceID string) {
	s, err := admin.SourceSnapshot(h.coord, sourceID)
	if err != nil {
		writeError(w, http.StatusNotFound, "SOURCE_NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toSourceStateResponse(s))
}

// RegisterSource handles POST /api/v1/sources.
func (h *Handler) RegisterSource(w http.ResponseWriter, r *http.Request) {
	var cfg model.SourceConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid source config: "+err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := admin.RegisterSource(ctx, h.coord, cfg, h.natsURL, nil); err != nil {
		h.logger.Error("register source failed", zap.String("source_id", cfg.SourceID), zap.Error(err))
		writeError(w, http.StatusConflict, "REGISTER_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, SuccessResponse{Success: true, Message: "source registered"})
}

// UnregisterSource handles DELETE /api/v1/sources/{id}.
func (h *Handler) UnregisterSource(w http.ResponseWriter, r *http.Request, sourceID string) {
	if err := admin.UnregisterSource(h.coord, sourceID); err != nil {
		writeError(w, http.StatusConflict, "UNREGISTER_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "source unregistered"})
}

// StartSource handles POST /api/v1/sources/{id}/start.
func (h *Handler) StartSource(w http.ResponseWriter, r *http.Request, sourceID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := admin.StartSource(ctx, h.coord, sourceID); err != nil {
		writeError(w, http.StatusConflict, "START_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "source started"})
}

// StopSource handles POST /api/v1/sources/{id}/stop.
func (h *Handler) StopSource(w http.ResponseWriter, r *http.Request, sourceID string) {
	if err := admin.StopSource(h.coord, sourceID); err != nil {
		writeError(w, http.StatusConflict, "STOP_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "source stopped"})
}

// PauseSource handles POST /api/v1/sources/{id}/pause.
func (h *Handler) PauseSource(w http.ResponseWriter, r *http.Request, sourceID string) {
	if err := admin.PauseSource(h.coord, sourceID); err != nil {
		writeError(w, http.StatusConflict, "PAUSE_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "source paused"})
}

// ResumeSource handles POST /api/v1/sources/{id}/resume.
func (h *Handler) ResumeSource(w http.ResponseWriter, r *http.Request, sourceID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := admin.ResumeSource(ctx, h.coord, sourceID); err != nil {
		writeError(w, http.StatusConflict, "RESUME_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "source resumed"})
}

// IngestNow handles POST /api/v1/sources/{id}/ingest.
func (h *Handler) IngestNow(w http.ResponseWriter, r *http.Request, sourceID string) {
	if err := admin.IngestNow(h.coord, sourceID); err != nil {
		writeError(w, http.StatusConflict, "INGEST_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, SuccessResponse{Success: true, Message: "tick enqueued"})
}

// QueryHash handles POST /api/v1/query/hash.
func (h *Handler) QueryHash(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	res, err := admin.QueryRecordExists(ctx, h.storage, req.SourceID, req.Hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "QUERY_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Sources: len(admin.SourcesSnapshot(h.coord))})
}

func toSourceStateResponse(s model.SourceState) SourceStateResponse {
	return SourceStateResponse{
		SourceID:            s.SourceID,
		FSMState:            string(s.FSMState),
		Watermark:           s.Watermark,
		ConsecutiveFailures: s.ConsecutiveFailures,
		DeferredTicks:       s.DeferredTicks,
		BreakerState:        string(s.BreakerState),
		LastFetchAt:         s.LastFetchAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
