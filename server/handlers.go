package server

import (
	"net/http"
	"strings"
	"time"

	"tyflo-push/pkg/notifier"
	"tyflo-push/registry"
)

// isoMillis formats event timestamps with millisecond precision in UTC.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// DefaultLiveTitle is announced when a live-start event carries no title.
const DefaultLiveTitle = "Audycja na żywo"

type registerRequest struct {
	Prefs any    `json:"prefs"`
	Token string `json:"token"`
	Env   string `json:"env"`
}

type updateRequest struct {
	Prefs any    `json:"prefs"`
	Token string `json:"token"`
}

type unregisterRequest struct {
	Token string `json:"token"`
}

type liveStartRequest struct {
	Title     string `json:"title"`
	StartedAt string `json:"startedAt"`
}

type scheduleUpdatedRequest struct {
	UpdatedAt string `json:"updatedAt"`
}

type healthResponse struct {
	Time        string `json:"time"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Subscribers int    `json:"subscribers"`
	OK          bool   `json:"ok"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		OK:          true,
		Name:        s.name,
		Version:     s.version,
		Time:        s.now().Format(isoMillis),
		Subscribers: s.registry.Count(r.Context()),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	s.writeErrorMessage(w, http.StatusNotFound, "not found")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	prefs := registry.NormalizePreferences(req.Prefs)
	if err := s.registry.Register(r.Context(), req.Token, req.Env, prefs); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	prefs := registry.NormalizePreferences(req.Prefs)
	if err := s.registry.UpdatePreferences(r.Context(), req.Token, prefs); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w)
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req unregisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.registry.Unregister(r.Context(), req.Token); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w)
}

func (s *Server) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	var req liveStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	payload := notifier.Payload{
		Kind:      "live-start",
		Title:     orDefault(req.Title, DefaultLiveTitle),
		StartedAt: orDefault(req.StartedAt, s.now().Format(isoMillis)),
	}
	s.dispatch(w, r, notifier.CategoryLive, payload.StartedAt, payload)
}

func (s *Server) handleLiveEnd(w http.ResponseWriter, r *http.Request) {
	var req struct{}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	payload := notifier.Payload{
		Kind:    "live-end",
		EndedAt: s.now().Format(isoMillis),
	}
	s.dispatch(w, r, notifier.CategoryLive, "end:"+payload.EndedAt, payload)
}

func (s *Server) handleScheduleUpdated(w http.ResponseWriter, r *http.Request) {
	var req scheduleUpdatedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	payload := notifier.Payload{
		Kind:      "schedule-updated",
		UpdatedAt: orDefault(req.UpdatedAt, s.now().Format(isoMillis)),
	}
	s.dispatch(w, r, notifier.CategorySchedule, payload.UpdatedAt, payload)
}

// dispatch fans out a webhook event once per key. Repeated keys are
// acknowledged without a second fan-out.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, category notifier.Category, key string, payload notifier.Payload) {
	start := time.Now()
	sent, matched, err := s.notifier.NotifyOnce(r.Context(), category, key, payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "Webhook event processed",
		"kind", payload.Kind,
		"category", category,
		"key", key,
		"duplicate", !sent,
		"matched", matched,
		"duration_ms", time.Since(start).Milliseconds())
	s.writeOK(w)
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
