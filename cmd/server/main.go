package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liamcoop/automations/automation"
	"github.com/liamcoop/automations/compiler"
	"github.com/liamcoop/automations/internal/config"
	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/rules"
)

// maximum accepted request body
const maxBodyBytes = 1 << 20

type Server struct {
	manager *automation.Manager
	router  *chi.Mux
}

func NewServer(manager *automation.Manager) *Server {
	s := &Server{manager: manager}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Route("/api/v1/automations", func(r chi.Router) {
		r.Get("/", s.handleListAutomations)
		r.Post("/", s.handleCreateAutomation)

		r.Route("/{automationId}", func(r chi.Router) {
			r.Get("/", s.handleGetAutomation)
			r.Delete("/", s.handleDeleteAutomation)
			r.Post("/toggle", s.handleToggleAutomation)
		})
	})

	r.Post("/api/v1/messages", s.handleMessage)
	r.Post("/api/v1/tick", s.handleTick)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Automations: len(s.manager.List()),
		Counters:    logger.Snapshot(),
	})
}

// List automations handler; ?format=text returns the human-readable listing
func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(s.manager.FormatList()))
		return
	}

	all := s.manager.List()
	resp := AutomationsListResponse{Automations: make([]*rules.Record, 0, len(all))}
	for _, rule := range all {
		rec, err := rules.NewRecord(rule)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to encode automation", err)
			return
		}
		resp.Automations = append(resp.Automations, rec)
	}
	respondJSON(w, http.StatusOK, resp)
}

// Create automation handler
func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var req CreateAutomationRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var (
		rule *rules.Rule
		err  error
	)
	switch {
	case req.Text != "":
		rule, err = s.manager.CompileFromText(req.Text)
		if errors.Is(err, compiler.ErrUnparseable) {
			respondError(w, http.StatusUnprocessableEntity, "could not understand automation", err)
			return
		}
	case req.TriggerType != "":
		rule, err = req.record().ToDraft()
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid automation", err)
			return
		}
		rule, err = s.manager.Create(rule)
	default:
		respondError(w, http.StatusBadRequest, "text or trigger_type is required", nil)
		return
	}

	switch {
	case errors.Is(err, rules.ErrDuplicateRule):
		respondError(w, http.StatusConflict, "automation already exists", err)
		return
	case errors.Is(err, rules.ErrInvalidRule):
		respondError(w, http.StatusBadRequest, "invalid automation", err)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to create automation", err)
		return
	}

	respondRule(w, http.StatusCreated, rule)
}

// Get automation handler
func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	rule, err := s.manager.Get(chi.URLParam(r, "automationId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "automation not found", err)
		return
	}
	respondRule(w, http.StatusOK, rule)
}

// Delete automation handler
func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Delete(chi.URLParam(r, "automationId")) {
		respondError(w, http.StatusNotFound, "automation not found", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Toggle automation handler
func (s *Server) handleToggleAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "automationId")
	enabled, ok := s.manager.Toggle(id)
	if !ok {
		respondError(w, http.StatusNotFound, "automation not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, ToggleResponse{ID: id, Enabled: enabled})
}

// Inbound message handler: runs matching keyword rules
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Text == "" {
		respondError(w, http.StatusBadRequest, "text is required", nil)
		return
	}

	firings := s.manager.HandleMessage(r.Context(), req.Text, req.Sender, deliverToLog)
	respondJSON(w, http.StatusOK, toFiringsResponse(firings))
}

// Tick handler: one evaluation pass at the current time
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	now := s.manager.Now()
	resp := toFiringsResponse(s.manager.RunDue(r.Context(), now, deliverToLog))
	resp.At = now.Format(time.RFC3339)
	respondJSON(w, http.StatusOK, resp)
}

// Helper functions
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func respondRule(w http.ResponseWriter, status int, rule *rules.Rule) {
	rec, err := rules.NewRecord(rule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode automation", err)
		return
	}
	respondJSON(w, status, rec)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	configPath := flag.String("config", os.Getenv("AUTOMATIONS_CONFIG"), "Path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}
	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	manager, err := automation.Open(cfg)
	if err != nil {
		logger.Fatal("failed to open automations", "error", err)
	}
	defer manager.Close()
	logger.Info("automations loaded", "count", len(manager.List()), "backend", cfg.Store.Backend)

	heartbeat, err := NewHeartbeat(manager, cfg.TickSpec)
	if err != nil {
		logger.Fatal("failed to start heartbeat", "error", err)
	}
	heartbeat.Start()

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      NewServer(manager),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	heartbeat.Stop()

	logger.Info("server stopped")
}
