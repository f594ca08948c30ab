package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ppiankov/callguard/internal/audit"
	"github.com/ppiankov/callguard/internal/engine"
	"github.com/ppiankov/callguard/internal/model"
	"github.com/ppiankov/callguard/internal/session"
)

// Handler serves the /v1 routes.
type Handler struct {
	engine *engine.Engine
	log    zerolog.Logger
}

type ackRequest struct {
	Token string `json:"token"`
}

type ackResponse struct {
	Session    *model.CapabilitySession `json:"session"`
	Violations []model.Violation        `json:"violations"`
}

// Evaluate authorizes one call. Blocked calls are 200 with executed=false;
// malformed requests are 400.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	req, err := engine.DecodeEvaluateRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.Evaluate(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var in session.Input
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := h.engine.CreateSession(in)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.engine.Sessions().Get(chi.URLParam(r, "taskID"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) AcknowledgeSession(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	taskID := chi.URLParam(r, "taskID")
	if _, ok := h.engine.Sessions().Get(taskID); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s, violations, err := h.engine.AcknowledgeSession(r.Context(), taskID, req.Token)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if violations == nil {
		violations = []model.Violation{}
	}
	writeJSON(w, http.StatusOK, ackResponse{Session: s, Violations: violations})
}

func (h *Handler) ReleaseSession(w http.ResponseWriter, r *http.Request) {
	h.engine.Sessions().Release(chi.URLParam(r, "taskID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := h.engine.Catalog().ListTools(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("catalog unavailable")
		writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": tools, "meta": map[string]int{"total": len(tools)}})
}

// Replay returns the recorded violations of a task. Optional from/to query
// parameters bound the range (RFC3339).
func (h *Handler) Replay(w http.ResponseWriter, r *http.Request) {
	replayer := h.engine.Replayer()
	if replayer == nil {
		writeError(w, http.StatusNotFound, "no audit sink configured")
		return
	}
	filter := audit.ReplayFilter{TaskID: chi.URLParam(r, "taskID")}
	var err error
	if filter.From, err = parseTime(r.URL.Query().Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	if filter.To, err = parseTime(r.URL.Query().Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}
	res, err := replayer.Replay(r.Context(), filter)
	if err != nil {
		h.log.Warn().Err(err).Msg("replay failed")
		writeError(w, http.StatusServiceUnavailable, "audit sink unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrContract):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
