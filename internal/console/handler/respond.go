package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/constraint-ledger/internal/domain"
)

// StatusResponse - JSON-вид domain.Status для клиента.
type StatusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

// writeStatus: отказ бизнес-правила - 400, всё остальное - 500.
func writeStatus(w http.ResponseWriter, st domain.Status[domain.Unit]) {
	switch {
	case st.IsSuccess():
		writeJSON(w, http.StatusOK, StatusResponse{Success: true})
	case st.IsBadRequest():
		writeJSON(w, http.StatusBadRequest, StatusResponse{Error: st.Message()})
	default:
		writeJSON(w, http.StatusInternalServerError, StatusResponse{Error: st.Message()})
	}
}
