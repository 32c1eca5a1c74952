package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/sakganji/datasetd/pkg/config"
)

// Server is the HTTP REST API server (§6 "External Interfaces").
type Server struct {
	handler    *Handler
	cfg        *config.Config
	httpServer *http.Server
}

// NewServer creates a new HTTP API server.
func NewServer(handler *Handler, cfg *config.Config) *Server {
	return &Server{handler: handler, cfg: cfg}
}

// Routes builds the full middleware-wrapped handler: the route table this
// server dispatches to, independent of whether it is ever bound to a port.
// Exported so both Start and tests build the exact same handler graph.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: "1.0.0"})
	})

	authed := http.NewServeMux()
	authed.HandleFunc("POST /datasets", s.handler.CreateDataset)
	authed.HandleFunc("POST /datasets/{id}/refs", s.handler.CreateRef)
	authed.HandleFunc("DELETE /datasets/{id}/refs/{name}", s.handler.DeleteRef)
	authed.HandleFunc("GET /datasets/{id}/refs", s.handler.ListRefs)
	authed.HandleFunc("POST /datasets/{id}/refs/{ref}/import", s.handler.Import)
	authed.HandleFunc("GET /datasets/{id}/overview", s.handler.Overview)
	authed.HandleFunc("GET /datasets/{id}/refs/{ref}/data", s.handler.DataAtRef)
	authed.HandleFunc("GET /datasets/{id}/commits/{commit_id}/data", s.handler.DataAtCommit)
	authed.HandleFunc("GET /datasets/{id}/history", s.handler.History)
	authed.HandleFunc("GET /datasets/{id}/commits/{commit_id}/schema", s.handler.Schema)
	authed.HandleFunc("POST /datasets/{id}/refs/{ref}/sample", s.handler.Sample)
	authed.HandleFunc("POST /datasets/{id}/refs/{ref}/profile", s.handler.Profile)
	authed.HandleFunc("POST /datasets/{id}/refs/{ref}/preview", s.handler.Preview)
	authed.HandleFunc("GET /jobs/{job_id}", s.handler.JobStatus)
	authed.HandleFunc("POST /jobs/{job_id}/cancel", s.handler.JobCancel)

	mux.Handle("/", AuthMiddleware(s.cfg.Auth.TokenSigningSecret)(authed))

	return RecoveryMiddleware(CORSMiddleware(LoggingMiddleware(mux)))
}

// Start starts the HTTP API server (blocking).
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddress(),
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("[HTTP] listening on %s", s.cfg.ListenAddress())
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP API server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
