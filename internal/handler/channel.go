package handler

import (
	"encoding/json"
	"net/http"

	"github.com/educhat/internal/middleware"
	"github.com/educhat/internal/service"
	"github.com/go-chi/chi/v5"
)

type ChannelHandler struct {
	channels *service.ChannelService
}

func NewChannelHandler(channels *service.ChannelService) *ChannelHandler {
	return &ChannelHandler{channels: channels}
}

type resolveChannelBody struct {
	PeerID string `json:"peer_id"`
}

// Resolve returns the 1:1 channel with the peer, creating it on first use.
// Always 200: resolution is idempotent, the channel is the same object
// whether it existed before the call or not.
func (h *ChannelHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var body resolveChannelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.PeerID == "" {
		writeError(w, http.StatusBadRequest, "peer_id is required")
		return
	}

	userID := middleware.GetUserID(r.Context())
	ch, err := h.channels.ResolveOrCreate(r.Context(), userID, body.PeerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	channels, err := h.channels.ListForUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	channelID := chi.URLParam(r, "id")

	ch, err := h.channels.Get(r.Context(), userID, channelID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}
