package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the registry over HTTP
type Server struct {
	registry *Registry
	sink     Sink
	logger   *slog.Logger
	router   chi.Router
}

type decisionResponse struct {
	Timestamp string `json:"timestamp"`
	Amount    int64  `json:"amount"`
	AccountID int64  `json:"account_id"`
	Alert     bool   `json:"alert"`
}

type accountResponse struct {
	WindowSnapshot
	Oldest string `json:"oldest,omitempty"`
	Newest string `json:"newest,omitempty"`
}

// NewServer creates the API server. sink may be nil.
func NewServer(registry *Registry, sink Sink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry: registry,
		sink:     sink,
		logger:   logger,
		router:   chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/transactions", s.ProcessTransaction)
		r.Get("/accounts/{id}", s.GetAccount)
	})
}

// Router returns the chi router
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"accounts": s.registry.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// ProcessTransaction screens a single transaction.
func (s *Server) ProcessTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tx, err := req.transaction()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	alert, err := s.registry.Process(tx)
	if err != nil {
		s.logger.Error("process transaction", "request_id", middleware.GetReqID(r.Context()), "err", err)
		respondError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	if s.sink != nil {
		if err := s.sink.Emit(r.Context(), Decision{Transaction: tx, Alert: alert}); err != nil {
			s.logger.Error("emit decision", "request_id", middleware.GetReqID(r.Context()), "err", err)
		}
	}

	respond(w, http.StatusOK, decisionResponse{
		Timestamp: tx.Timestamp.Format(TimeLayout),
		Amount:    tx.Amount,
		AccountID: tx.AccountID,
		Alert:     alert,
	})
}

// GetAccount returns the live window of an account.
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	snap, ok := s.registry.Snapshot(id)
	if !ok {
		respondError(w, http.StatusNotFound, "account not found")
		return
	}

	resp := accountResponse{WindowSnapshot: snap}
	if snap.Count > 0 {
		resp.Oldest = snap.Oldest.Format(TimeLayout)
		resp.Newest = snap.Newest.Format(TimeLayout)
	}
	respond(w, http.StatusOK, resp)
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}
