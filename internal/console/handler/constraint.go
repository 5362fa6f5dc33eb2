package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/constraint-ledger/internal/console/service"
)

type ConstraintHandler struct {
	service *service.ConstraintService
	logger  *zap.Logger
}

func NewConstraintHandler(s *service.ConstraintService, logger *zap.Logger) *ConstraintHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConstraintHandler{service: s, logger: logger}
}

type claimRequest struct {
	Duration string `json:"duration"` // "10s", "1m30s"
}

// Claim
// POST /v1/constraints/{id}/claim {"duration":"10s"}
func (h *ConstraintHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := constraintID(w, r)
	if !ok {
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid duration: "+req.Duration)
		return
	}

	writeStatus(w, h.service.Claim(r.Context(), id, d))
}

// Validate
// POST /v1/constraints/{id}/validate
func (h *ConstraintHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id, ok := constraintID(w, r)
	if !ok {
		return
	}
	writeStatus(w, h.service.Validate(r.Context(), id))
}

// Release
// POST /v1/constraints/{id}/release
func (h *ConstraintHandler) Release(w http.ResponseWriter, r *http.Request) {
	id, ok := constraintID(w, r)
	if !ok {
		return
	}
	writeStatus(w, h.service.Release(r.Context(), id))
}

// Get возвращает состояние, восстановленное из журнала.
// Неизвестный id - IDLE с версией 0, не 404.
func (h *ConstraintHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := constraintID(w, r)
	if !ok {
		return
	}
	view, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load constraint", zap.String("constraint_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load constraint")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Events
// GET /v1/constraints/{id}/events
func (h *ConstraintHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := constraintID(w, r)
	if !ok {
		return
	}
	events, err := h.service.Events(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load history", zap.String("constraint_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// List отдаёт табло. Данные eventually consistent.
// GET /v1/constraints
func (h *ConstraintHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Board())
}

func constraintID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		writeError(w, http.StatusBadRequest, service.ErrEmptyID.Error())
		return "", false
	}
	return id, true
}
