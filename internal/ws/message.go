package ws

import "github.com/educhat/internal/model"

type EventType string

// Client-to-server events.
const (
	EventSubscribe     EventType = "subscribe"
	EventUnsubscribe   EventType = "unsubscribe"
	EventSendMessage   EventType = "send_message"
	EventTyping        EventType = "typing"
	EventToggleReact   EventType = "toggle_reaction"
	EventMarkRead      EventType = "mark_read"
	EventDeleteMessage EventType = "delete_message"
)

// Server-to-client events.
const (
	EventMessageFeed    EventType = "message_feed"
	EventRequestFeed    EventType = "request_feed"
	EventChannelUpdated EventType = "channel_updated"
	EventUserOnline     EventType = "user_online"
	EventUserOffline    EventType = "user_offline"
	EventError          EventType = "error"
)

// IncomingMessage is what the client sends to the server. Fields are a
// union over event types; each handler validates the ones it needs.
type IncomingMessage struct {
	Type      EventType `json:"type"`
	ChannelID string    `json:"channel_id,omitempty"`

	// send_message
	Text      string           `json:"text,omitempty"`
	Files     []model.FileMeta `json:"files,omitempty"`
	ReplyToID string           `json:"reply_to_id,omitempty"`

	// toggle_reaction / delete_message
	MessageID string `json:"message_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`

	// mark_read
	Seq int64 `json:"seq,omitempty"`

	// typing: true on keystrokes, false on explicit stop. The flag also
	// expires server-side on its own after the TTL.
	Typing bool `json:"typing,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// TypingPayload carries who is currently typing in the channel. The list
// never includes the recipient itself.
type TypingPayload struct {
	ChannelID string   `json:"channel_id"`
	UserIDs   []string `json:"user_ids"`
	Label     string   `json:"label,omitempty"`
}

// ChannelUpdatedPayload nudges clients to refresh their conversation list
// (last-message preview, unread count).
type ChannelUpdatedPayload struct {
	ChannelID string `json:"channel_id"`
}

// UserStatusPayload is broadcast for online/offline status.
type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}
