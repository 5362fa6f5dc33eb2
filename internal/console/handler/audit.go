package handler

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/xela07ax/constraint-ledger/internal/console/service"
)

type AuditHandler struct {
	service *service.AuditService
	logger  *zap.Logger
}

func NewAuditHandler(s *service.AuditService, logger *zap.Logger) *AuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditHandler{service: s, logger: logger}
}

// GetLogs возвращает след команд по ограничению
// GET /v1/constraints/{id}/audit?limit=50
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := constraintID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	logs, err := h.service.FetchLogs(r.Context(), id, limit)
	if errors.Is(err, service.ErrAuditUnavailable) {
		writeError(w, http.StatusNotImplemented, "audit storage is not queryable")
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch audit logs", zap.String("constraint_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch audit logs")
		return
	}

	writeJSON(w, http.StatusOK, logs)
}
