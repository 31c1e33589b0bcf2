package handler

import (
	"encoding/json"
	"net/http"

	"github.com/educhat/internal/middleware"
	"github.com/educhat/internal/model"
	"github.com/educhat/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type MessageHandler struct {
	messages *service.MessageService
}

func NewMessageHandler(messages *service.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// History serves paginated reads past the live feed window, newest first.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	channelID := chi.URLParam(r, "id")

	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	msgs, err := h.messages.History(r.Context(), userID, channelID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageBody struct {
	Text      string           `json:"text"`
	Files     []model.FileMeta `json:"files,omitempty"`
	ReplyToID string           `json:"reply_to_id,omitempty"`
}

// Send is the REST counterpart of the send_message WebSocket event.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var body sendMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	userID := middleware.GetUserID(r.Context())
	channelID := chi.URLParam(r, "id")

	var replyToID *string
	if body.ReplyToID != "" {
		replyToID = &body.ReplyToID
	}

	m, err := h.messages.Send(r.Context(), userID, channelID, body.Text, body.Files, replyToID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type markReadBody struct {
	Seq int64 `json:"seq"`
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var body markReadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.Seq <= 0 {
		writeError(w, http.StatusBadRequest, "seq must be positive")
		return
	}

	userID := middleware.GetUserID(r.Context())
	channelID := chi.URLParam(r, "id")

	if err := h.messages.MarkRead(r.Context(), userID, channelID, body.Seq); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toggleReactionBody struct {
	Emoji string `json:"emoji"`
}

func (h *MessageHandler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	var body toggleReactionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji is required")
		return
	}

	userID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "id")

	if err := h.messages.ToggleReaction(r.Context(), userID, messageID, body.Emoji); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "id")

	if err := h.messages.Delete(r.Context(), userID, messageID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
