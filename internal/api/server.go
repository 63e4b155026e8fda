// Package api exposes the quotation service over HTTP: submit a product
// query, poll its status, and read the round-by-round audit trail.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/quote-engine/internal/model"
	"github.com/sells-group/quote-engine/internal/store"
)

// Enqueuer schedules a quotation run for background processing.
type Enqueuer interface {
	EnqueueRun(ctx context.Context, quotationID, query string) error
}

// Server handles the quotation REST API.
type Server struct {
	store    store.Store
	enqueuer Enqueuer
	router   chi.Router
}

// NewServer wires the store and queue client into a chi router.
func NewServer(st store.Store, enq Enqueuer) *Server {
	s := &Server{store: st, enqueuer: enq}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/quotations", func(r chi.Router) {
		r.Post("/", s.handleCreateQuotation)
		r.Get("/", s.handleListQuotations)
		r.Route("/{quotationID}", func(r chi.Router) {
			r.Get("/", s.handleGetQuotation)
			r.Get("/rounds", s.handleListRounds)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateQuotation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	q, err := s.store.CreateQuotation(r.Context(), req.Query)
	if err != nil {
		zap.L().Error("api: create quotation", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "create quotation")
		return
	}

	if err := s.enqueuer.EnqueueRun(r.Context(), q.ID, q.Query); err != nil {
		zap.L().Error("api: enqueue run", zap.String("quotation_id", q.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "enqueue run")
		return
	}

	respondJSON(w, http.StatusAccepted, q)
}

func (s *Server) handleGetQuotation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "quotationID")
	q, err := s.store.GetQuotation(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			respondError(w, http.StatusNotFound, "quotation not found")
			return
		}
		zap.L().Error("api: get quotation", zap.String("quotation_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "get quotation")
		return
	}
	respondJSON(w, http.StatusOK, q)
}

func (s *Server) handleListQuotations(w http.ResponseWriter, r *http.Request) {
	filter := store.QuotationFilter{
		Status: model.QuotationStatus(r.URL.Query().Get("status")),
		Query:  r.URL.Query().Get("q"),
		Limit:  intParam(r, "limit", 50),
		Offset: intParam(r, "offset", 0),
	}

	quotations, err := s.store.ListQuotations(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list quotations", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "list quotations")
		return
	}
	if quotations == nil {
		quotations = []model.Quotation{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"quotations": quotations})
}

func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "quotationID")
	if _, err := s.store.GetQuotation(r.Context(), id); err != nil {
		if isNotFound(err) {
			respondError(w, http.StatusNotFound, "quotation not found")
			return
		}
		zap.L().Error("api: get quotation", zap.String("quotation_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "get quotation")
		return
	}

	rounds, err := s.store.ListRounds(r.Context(), id)
	if err != nil {
		zap.L().Error("api: list rounds", zap.String("quotation_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "list rounds")
		return
	}
	if rounds == nil {
		rounds = []model.Round{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"rounds": rounds})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			zap.L().Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		}()
		next.ServeHTTP(ww, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// isNotFound matches the store layer's not-found errors. Both drivers wrap
// their driver sentinel with the same "not found" message.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
