package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quietvoice/prism/internal/classify"
	"github.com/quietvoice/prism/internal/store"
)

func (s *Server) handleProcessMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"user_id"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}

	result, err := s.engine.ProcessMessage(r.Context(), req.UserID, req.Message)
	if err != nil {
		var ve *classify.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusUnprocessableEntity, ve.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusCreated
	if result.RequiresClarification || result.MentionOf != "" {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	q := store.IncidentQuery{UserID: userID}
	if layer := r.URL.Query().Get("layer"); layer != "" {
		sl := store.StateLayer(layer)
		if !sl.Valid() {
			writeError(w, http.StatusBadRequest, "unknown layer "+layer)
			return
		}
		q.StateLayers = []store.StateLayer{sl}
	}
	if domain := r.URL.Query().Get("domain"); domain != "" {
		q.Domain = domain
	}
	if min := r.URL.Query().Get("min_relevance"); min != "" {
		v, err := strconv.ParseFloat(min, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid min_relevance")
			return
		}
		q.MinRelevance = v
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		v, err := strconv.Atoi(limit)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = v
	}
	q.IncludeSuppressed = r.URL.Query().Get("include_suppressed") == "true"

	incidents, err := s.db.QueryIncidents(q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"count":     len(incidents),
		"incidents": incidents,
	})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	tc, err := s.engine.BuildContext(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}

	results, err := s.engine.FindSimilar(r.Context(), userID, query, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleUserTransitions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	transitions, err := s.db.ListUserTransitions(userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"count":       len(transitions),
		"transitions": transitions,
	})
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	inc, ok := s.loadIncident(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleIncidentTransitions(w http.ResponseWriter, r *http.Request) {
	inc, ok := s.loadIncident(w, r)
	if !ok {
		return
	}
	trail, err := s.engine.AuditTrail(inc.IncidentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident_id": inc.IncidentID,
		"count":       len(trail),
		"transitions": trail,
	})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	inc, ok := s.loadIncident(w, r)
	if !ok {
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	snaps, err := s.db.ListDecaySnapshots(inc.IncidentID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident_id": inc.IncidentID,
		"count":       len(snaps),
		"snapshots":   snaps,
	})
}

func (s *Server) handleSuppress(w http.ResponseWriter, r *http.Request) {
	inc, ok := s.loadIncident(w, r)
	if !ok {
		return
	}
	if err := s.engine.Suppress(inc.IncidentID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "suppressed"})
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	inc, ok := s.loadIncident(w, r)
	if !ok {
		return
	}
	var req struct {
		Layer string `json:"layer"`
		Note  string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	layer := store.StateLayer(req.Layer)
	if !layer.Valid() {
		writeError(w, http.StatusBadRequest, "unknown layer "+req.Layer)
		return
	}
	if err := s.engine.Override(inc.IncidentID, layer, req.Note); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "overridden", "layer": req.Layer})
}

func (s *Server) handleResurge(w http.ResponseWriter, r *http.Request) {
	inc, ok := s.loadIncident(w, r)
	if !ok {
		return
	}
	var req struct {
		Trigger string `json:"trigger"`
		Note    string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Trigger == "" {
		req.Trigger = store.TriggerSimilarIncident
	}

	ev, err := s.engine.TriggerResurgence(inc.IncidentID, req.Trigger, req.Note)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// loadIncident resolves {incidentID} or writes a 404.
func (s *Server) loadIncident(w http.ResponseWriter, r *http.Request) (*store.Incident, bool) {
	id := chi.URLParam(r, "incidentID")
	inc, err := s.db.GetIncident(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if inc == nil {
		writeError(w, http.StatusNotFound, "incident "+id+" not found")
		return nil, false
	}
	return inc, true
}
