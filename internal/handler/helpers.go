package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/educhat/internal/logger"
	"github.com/educhat/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrSelfRequest):
		writeError(w, http.StatusBadRequest, service.ErrSelfRequest.Error())
	case errors.Is(err, service.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, service.ErrDuplicateRequest.Error())
	case errors.Is(err, service.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, service.ErrEmptyMessage.Error())
	case errors.Is(err, service.ErrNotConnected):
		writeError(w, http.StatusForbidden, service.ErrNotConnected.Error())
	default:
		logger.Errorf("handler: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
