// Package api is the thin HTTP surface over the analytics core. Handlers
// parse requests, resolve the actor, call one core operation, and map the
// error taxonomy onto status codes. No business logic lives here.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/webibook/analytics/internal/domain"
	"github.com/webibook/analytics/internal/engagement"
	"github.com/webibook/analytics/internal/identity"
	"github.com/webibook/analytics/internal/pkg/logger"
	"github.com/webibook/analytics/internal/report"
	"github.com/webibook/analytics/internal/store"
	"github.com/webibook/analytics/internal/subscription"
	"github.com/webibook/analytics/internal/visit"
)

// Server bundles the core components behind the HTTP routes.
type Server struct {
	resolver      *identity.Resolver
	engagement    *engagement.Aggregator
	visits        *visit.Engine
	subscriptions *subscription.Service
	reports       *report.Builder
	archiver      *store.Archiver
	adminPassword string
}

// NewServer wires the handler set.
func NewServer(
	resolver *identity.Resolver,
	agg *engagement.Aggregator,
	visits *visit.Engine,
	subs *subscription.Service,
	reports *report.Builder,
	archiver *store.Archiver,
	adminPassword string,
) *Server {
	return &Server{
		resolver:      resolver,
		engagement:    agg,
		visits:        visits,
		subscriptions: subs,
		reports:       reports,
		archiver:      archiver,
		adminPassword: adminPassword,
	}
}

// Routes builds the chi router for the API.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/events/{eventID}/save", s.handleSave)
		r.Delete("/events/{eventID}/save", s.handleUnsave)
		r.Post("/clicks", s.handleClick)
		r.Post("/visits", s.handleVisit)
		r.Post("/subscribe", s.handleSubscribe)
		r.Post("/unsubscribe", s.handleUnsubscribe)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/admin/dashboard", s.handleDashboard)
			r.Get("/admin/export", s.handleExport)
		})
	})

	return r
}

type registerRequest struct {
	Email string `json:"email"`
}

type registerResponse struct {
	ActorID      string   `json:"actorId"`
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	SavedEvents  []string `json:"savedEventIds"`
	VisitCount   int      `json:"visitCount"`
	IsNewActor   bool     `json:"isNewActor"`
	Credential   string   `json:"credential"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	actor, isNew, err := s.resolver.Register(r.Context(), req.Email, clientContext(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	credential, err := s.resolver.MintCredential(actor)
	if err != nil {
		logger.Error("minting credential", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		ActorID:     actor.ID,
		Email:       actor.Email,
		Name:        actor.Name,
		SavedEvents: actor.SavedEventIDs(),
		VisitCount:  actor.VisitCount,
		IsNewActor:  isNew,
		Credential:  credential,
	})
}

type savedSetResponse struct {
	SavedEvents []string `json:"savedEventIds"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	set, err := s.engagement.SaveEvent(r.Context(), actor.Email, chi.URLParam(r, "eventID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, savedSetResponse{SavedEvents: savedIDs(set)})
}

func (s *Server) handleUnsave(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	set, err := s.engagement.UnsaveEvent(r.Context(), actor.Email, chi.URLParam(r, "eventID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, savedSetResponse{SavedEvents: savedIDs(set)})
}

type clickRequest struct {
	EventID   string `json:"eventId"`
	Title     string `json:"title,omitempty"`
	Topic     string `json:"topic,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Clicks may be anonymous; a bad credential is just an anonymous click.
	actor, err := s.resolver.ResolveFromCredential(r.Context(), bearerCredential(r))
	if err != nil {
		logger.Warn("resolving credential for click", "error", err.Error())
	}

	if err := s.engagement.RecordClick(r.Context(), req.EventID, req.Title, req.Topic, actor, req.SessionID, clientContext(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

type visitRequest struct {
	SessionID   string `json:"sessionId,omitempty"`
	IsReturning *bool  `json:"isReturning,omitempty"`
}

type visitResponse struct {
	SessionID    string `json:"sessionId"`
	IsNewSession bool   `json:"isNewSession"`
}

func (s *Server) handleVisit(w http.ResponseWriter, r *http.Request) {
	var req visitRequest
	if r.Body != nil {
		// An empty body is a bare ping.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	actor, err := s.resolver.ResolveFromCredential(r.Context(), bearerCredential(r))
	if err != nil {
		logger.Warn("resolving credential for visit", "error", err.Error())
	}

	sessionID, isNew, err := s.visits.TrackVisit(r.Context(), req.SessionID, req.IsReturning, actor, clientContext(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, visitResponse{SessionID: sessionID, IsNewSession: isNew})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.subscriptions.Subscribe(r.Context(), req.Email, "site"); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "subscribed"})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.subscriptions.Unsubscribe(r.Context(), req.Email); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap, err := s.reports.Build(r.Context())
	if err != nil {
		logger.Error("building dashboard snapshot", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.reports.Build(r.Context())
	if err != nil {
		logger.Error("building export snapshot", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if r.URL.Query().Get("archive") == "true" {
		// Best-effort; the caller still gets their export.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		go func() {
			defer cancel()
			if err := s.archiver.ArchiveSnapshot(ctx, snap.Export); err != nil {
				logger.Warn("archiving export snapshot", "error", err.Error())
			}
		}()
	}
	writeJSON(w, http.StatusOK, snap.Export)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireActor resolves the request credential and writes a 401 when there
// is none. Save/unsave require a registered actor.
func (s *Server) requireActor(w http.ResponseWriter, r *http.Request) (*domain.Actor, bool) {
	actor, err := s.resolver.ResolveFromCredential(r.Context(), bearerCredential(r))
	if err != nil {
		logger.Error("resolving credential", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return actor, true
}

// requireAdmin gates the reporting routes on the configured password, the
// same ?admin= convention the dashboard UI uses.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminPassword == "" {
			writeError(w, http.StatusForbidden, "admin access not configured")
			return
		}
		supplied := r.URL.Query().Get("admin")
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.adminPassword)) != 1 {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func savedIDs(set []domain.SavedEvent) []string {
	ids := make([]string, 0, len(set))
	for _, s := range set {
		ids = append(ids, s.EventID)
	}
	return ids
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the core error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		logger.Error("unhandled error", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
