// Copyright 2025 James Ross
package adminapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/regulens/ingestion-engine/internal/coordinator"
	"github.com/regulens/ingestion-engine/internal/storage"
)

// Server is the admin HTTP surface for operating a running engine: source
// lifecycle control, duplicate-hash queries, and health, per spec §4.1's
// external control-plane requirement.
type Server struct {
	cfg      *Config
	handler  *Handler
	logger   *zap.Logger
	server   *http.Server
	auditLog *AuditLogger
}

// NewServer builds the admin server bound to coord and st.
func NewServer(cfg *Config, coord *coordinator.Coordinator, st *storage.Adapter, natsURL string, logger *zap.Logger) (*Server, error) {
	var auditLog *AuditLogger
	var err error
	if cfg.AuditEnabled {
		auditLog, err = NewAuditLogger(cfg.AuditLogPath, cfg.AuditRotateSize, cfg.AuditMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("adminapi: create audit logger: %w", err)
		}
	}
	return &Server{
		cfg:      cfg,
		handler:  NewHandler(coord, st, natsURL, logger, auditLog),
		logger:   logger,
		auditLog: auditLog,
	}, nil
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	handler := s.applyMiddleware(s.setupRoutes())
	s.server = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("starting admin API server",
		zap.String("addr", s.cfg.ListenAddr),
		zap.Bool("auth_enabled", s.cfg.RequireAuth))
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and closes the audit log.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.auditLog != nil {
		s.auditLog.Close()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes() http.Handler {
	r := mux.NewRouter()
	h := s.handler

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/sources", h.ListSources).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/sources", h.RegisterSource).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/sources/{id}", func(w http.ResponseWriter, req *http.Request) {
		h.GetSource(w, req, mux.Vars(req)["id"])
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/sources/{id}", func(w http.ResponseWriter, req *http.Request) {
		h.UnregisterSource(w, req, mux.Vars(req)["id"])
	}).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/sources/{id}/start", func(w http.ResponseWriter, req *http.Request) {
		h.StartSource(w, req, mux.Vars(req)["id"])
	}).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/sources/{id}/stop", func(w http.ResponseWriter, req *http.Request) {
		h.StopSource(w, req, mux.Vars(req)["id"])
	}).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/sources/{id}/pause", func(w http.ResponseWriter, req *http.Request) {
		h.PauseSource(w, req, mux.Vars(req)["id"])
	}).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/sources/{id}/resume", func(w http.ResponseWriter, req *http.Request) {
		h.ResumeSource(w, req, mux.Vars(req)["id"])
	}).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/sources/{id}/ingest", func(w http.ResponseWriter, req *http.Request) {
		h.IngestNow(w, req, mux.Vars(req)["id"])
	}).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/query/hash", h.QueryHash).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "endpoint not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	return r
}

func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware()(handler)
	if s.cfg.CORSEnabled {
		handler = CORSMiddleware(s.cfg.CORSAllowOrigins)(handler)
	}
	if s.cfg.AuditEnabled && s.auditLog != nil {
		handler = AuditMiddleware(s.auditLog, s.logger)(handler)
	}
	if s.cfg.RateLimitEnabled {
		handler = RateLimitMiddleware(s.cfg.RateLimitPerMinute, s.cfg.RateLimitBurst, s.logger)(handler)
	}
	if s.cfg.RequireAuth {
		handler = AuthMiddleware(s.cfg.JWTSecret, s.cfg.DenyByDefault, s.logger)(handler)
	}
	return handler
}
