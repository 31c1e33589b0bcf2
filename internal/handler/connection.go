package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/educhat/internal/middleware"
	"github.com/educhat/internal/model"
	"github.com/educhat/internal/service"
	"github.com/go-chi/chi/v5"
)

type ConnectionHandler struct {
	connections *service.ConnectionService
}

func NewConnectionHandler(connections *service.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{connections: connections}
}

type sendRequestBody struct {
	// Target is a user id or an email address.
	Target string `json:"target"`
}

func (h *ConnectionHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	var body sendRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	body.Target = strings.TrimSpace(body.Target)
	if body.Target == "" {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	userID := middleware.GetUserID(r.Context())
	req, err := h.connections.SendRequest(r.Context(), userID, body.Target)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *ConnectionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	requestID := chi.URLParam(r, "id")

	err := h.connections.Accept(r.Context(), userID, requestID)
	// A request that vanished between listing and accepting is treated as
	// already handled.
	if errors.Is(err, service.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConnectionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	requestID := chi.URLParam(r, "id")

	if err := h.connections.Reject(r.Context(), userID, requestID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pendingResponse struct {
	Incoming []model.ConnectionRequest `json:"incoming"`
	Outgoing []model.ConnectionRequest `json:"outgoing"`
}

func (h *ConnectionHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	incoming, outgoing, err := h.connections.ListPending(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{Incoming: incoming, Outgoing: outgoing})
}

func (h *ConnectionHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	peers, err := h.connections.ListConnections(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, peers)
}
