// Package api exposes the HTTP interface for the monitoring service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ihabontop/jobwatch/internal/listing"
)

// CycleController is the slice of the orchestrator the API needs.
type CycleController interface {
	StartCycle(ctx context.Context) error
	Running() bool
	LastCycle() *listing.CycleStats
}

// Server wires HTTP handlers to the store and the orchestrator.
type Server struct {
	router     chi.Router
	store      listing.Store
	controller CycleController
	window     time.Duration
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The window
// bounds how far back /v1/listings/recent looks by default.
func NewServer(store listing.Store, controller CycleController, window time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      store,
		controller: controller,
		window:     window,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.getStats)
		r.Post("/cycles", s.startCycle)

		r.Route("/topics", func(r chi.Router) {
			r.Get("/", s.listTopics)
			r.Post("/", s.createTopic)
			r.Route("/{topic_id}", func(r chi.Router) {
				r.Get("/", s.getTopic)
				r.Put("/keywords", s.updateTopicKeywords)
				r.Delete("/", s.deactivateTopic)
			})
		})

		r.Get("/listings/recent", s.recentListings)

		r.Route("/subscribers/{external_id}", func(r chi.Router) {
			r.Get("/", s.getSubscriber)
			r.Put("/", s.upsertSubscriber)
			r.Post("/topics/{topic_id}", s.addSubscriberTopic)
			r.Delete("/topics/{topic_id}", s.removeSubscriberTopic)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// the store answering a cheap query is the readiness signal
	if _, err := s.store.ActiveTopics(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"running":    s.controller.Running(),
		"last_cycle": s.controller.LastCycle(),
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) startCycle(w http.ResponseWriter, r *http.Request) {
	// detach from the request context so the cycle survives the response
	if err := s.controller.StartCycle(context.WithoutCancel(r.Context())); err != nil {
		if errors.Is(err, listing.ErrCycleRunning) {
			writeError(w, http.StatusConflict, "a cycle is already running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.store.ActiveTopics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list topics")
		return
	}
	if topics == nil {
		topics = []listing.Topic{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

type createTopicRequest struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	ROMECode    string   `json:"rome_code"`
}

func (s *Server) createTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing topic name")
		return
	}
	topic, err := s.store.CreateTopic(r.Context(), listing.Topic{
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
		Keywords:    req.Keywords,
		ROMECode:    req.ROMECode,
	})
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, topic)
}

func (s *Server) getTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "topic_id")
	if !ok {
		return
	}
	topic, err := s.store.TopicByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "topic not found")
		return
	}
	writeJSON(w, http.StatusOK, topic)
}

type updateKeywordsRequest struct {
	Keywords []string `json:"keywords"`
}

func (s *Server) updateTopicKeywords(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "topic_id")
	if !ok {
		return
	}
	var req updateKeywordsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Keywords) == 0 {
		writeError(w, http.StatusBadRequest, "missing keywords")
		return
	}
	if err := s.store.UpdateTopicKeywords(r.Context(), id, req.Keywords); err != nil {
		writeStoreError(w, err, "topic not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) deactivateTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "topic_id")
	if !ok {
		return
	}
	if err := s.store.DeactivateTopic(r.Context(), id); err != nil {
		writeStoreError(w, err, "topic not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) recentListings(w http.ResponseWriter, r *http.Request) {
	window := s.window
	if hours := r.URL.Query().Get("hours"); hours != "" {
		n, err := strconv.Atoi(hours)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid hours")
			return
		}
		window = time.Duration(n) * time.Hour
	}
	var topicID int64
	if raw := r.URL.Query().Get("topic_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid topic_id")
			return
		}
		topicID = n
	}

	listings, err := s.store.RecentListings(r.Context(), window, topicID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list listings")
		return
	}
	if listings == nil {
		listings = []listing.StoredListing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

func (s *Server) getSubscriber(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "external_id")
	sub, err := s.store.SubscriberByExternalID(r.Context(), externalID)
	if err != nil {
		writeStoreError(w, err, "subscriber not found")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type upsertSubscriberRequest struct {
	Username          string `json:"username"`
	PreferredLocation string `json:"preferred_location"`
	MaxDistanceKm     int    `json:"max_distance_km"`
	NotifyRole        string `json:"notify_role"`
}

func (s *Server) upsertSubscriber(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "external_id")
	var req upsertSubscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sub, err := s.store.UpsertSubscriber(r.Context(), listing.Subscriber{
		ExternalID:        externalID,
		Username:          req.Username,
		PreferredLocation: req.PreferredLocation,
		MaxDistanceKm:     req.MaxDistanceKm,
		NotifyRole:        req.NotifyRole,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) addSubscriberTopic(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "external_id")
	topicID, ok := parseID(w, r, "topic_id")
	if !ok {
		return
	}
	if err := s.store.AddSubscriberTopic(r.Context(), externalID, topicID); err != nil {
		writeStoreError(w, err, "subscriber or topic not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "subscribed"})
}

func (s *Server) removeSubscriberTopic(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "external_id")
	topicID, ok := parseID(w, r, "topic_id")
	if !ok {
		return
	}
	if err := s.store.RemoveSubscriberTopic(r.Context(), externalID, topicID); err != nil {
		writeStoreError(w, err, "subscriber not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, listing.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
