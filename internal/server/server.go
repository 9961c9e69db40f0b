// Package server exposes the reminder lifecycle over a small JSON API. The
// caller is identified by the X-Owner-ID header; session handling lives in
// front of this service.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"remindd/internal/apperr"
	"remindd/internal/contract"
	"remindd/internal/models"
	"remindd/internal/service"
)

type Server struct {
	reminders  *service.ReminderService
	endpoints  contract.EndpointRegistry
	dispatcher contract.Dispatcher
	log        zerolog.Logger
}

func New(
	reminders *service.ReminderService,
	endpoints contract.EndpointRegistry,
	dispatcher contract.Dispatcher,
	log zerolog.Logger,
) *Server {
	return &Server{
		reminders:  reminders,
		endpoints:  endpoints,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "server").Logger(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/reminders", s.requireOwner(s.handleCreate))
	mux.HandleFunc("GET /api/v1/reminders", s.requireOwner(s.handleList))
	mux.HandleFunc("GET /api/v1/reminders/{id}", s.requireOwner(s.handleGet))
	mux.HandleFunc("PUT /api/v1/reminders/{id}", s.requireOwner(s.handleUpdate))
	mux.HandleFunc("DELETE /api/v1/reminders/{id}", s.requireOwner(s.handleDelete))
	mux.HandleFunc("POST /api/v1/reminders/sync", s.requireOwner(s.handleSync))
	mux.HandleFunc("POST /api/v1/reminders/{id}/trigger", s.requireOwner(s.handleTrigger))
	mux.HandleFunc("POST /api/v1/endpoints", s.requireOwner(s.handleRegisterEndpoint))
	mux.HandleFunc("DELETE /api/v1/endpoints/{device_id}", s.requireOwner(s.handleRemoveEndpoint))
	return mux
}

type ownerHandler func(w http.ResponseWriter, r *http.Request, ownerID string)

func (s *Server) requireOwner(next ownerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get("X-Owner-ID")
		if ownerID == "" {
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing X-Owner-ID header"})
			return
		}
		next(w, r, ownerID)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, ownerID string) {
	var in service.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	in.OwnerID = ownerID

	rows, err := s.reminders.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rows)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, ownerID string) {
	includeTriggered := r.URL.Query().Get("include_triggered") == "true"
	rows, err := s.reminders.List(r.Context(), ownerID, includeTriggered)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rows == nil {
		rows = []*models.Reminder{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, ownerID string) {
	row, err := s.reminders.Get(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, ownerID string) {
	var in service.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	applyToSeries := r.URL.Query().Get("apply_to_series") == "true"

	rows, err := s.reminders.Update(r.Context(), ownerID, r.PathValue("id"), in, applyToSeries)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, ownerID string) {
	applyToSeries := r.URL.Query().Get("apply_to_series") == "true"
	n, err := s.reminders.Delete(r.Context(), ownerID, r.PathValue("id"), applyToSeries)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if n == 0 {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "reminder not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, ownerID string) {
	var in struct {
		Reminders []service.SyncItem `json:"reminders"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	result, err := s.reminders.Sync(r.Context(), ownerID, in.Reminders)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleTrigger fires an occurrence immediately. Safe to race with the real
// timer: whoever loses the compare-and-set delivers nothing.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request, ownerID string) {
	// Ownership check first so one owner cannot fire another's reminder.
	if _, err := s.reminders.Get(r.Context(), ownerID, r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	summary, err := s.dispatcher.Trigger(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRegisterEndpoint(w http.ResponseWriter, r *http.Request, ownerID string) {
	var in struct {
		DeviceID string `json:"device_id"`
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if in.DeviceID == "" || in.Token == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "device_id and token are required"})
		return
	}
	if in.Platform == "" {
		in.Platform = models.PlatformPush
	}

	endpoint := &models.Endpoint{
		OwnerID:  ownerID,
		DeviceID: in.DeviceID,
		Token:    in.Token,
		Platform: in.Platform,
	}
	if err := s.endpoints.Register(r.Context(), endpoint); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, endpoint)
}

func (s *Server) handleRemoveEndpoint(w http.ResponseWriter, r *http.Request, ownerID string) {
	n, err := s.endpoints.Remove(r.Context(), ownerID, r.PathValue("device_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if n == 0 {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "endpoint not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "reminder not found"})
	default:
		s.log.Error().Err(err).Msg("request failed")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}
