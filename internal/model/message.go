package model

import "time"

// FileMeta describes one attachment. The engine stores only the blob URL
// plus client-supplied name/type/size; bytes live in blob storage.
type FileMeta struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	URL         string `json:"url"`
}

// Message is one unit of conversation content. Seq is assigned by the
// storage layer at insert time and is the sole per-channel sort key;
// CreatedAt is display metadata only.
type Message struct {
	ID        string     `json:"id"`
	ChannelID string     `json:"channel_id"`
	SenderID  string     `json:"sender_id"`
	Text      string     `json:"text"`
	Seq       int64      `json:"seq"`
	CreatedAt time.Time  `json:"created_at"`
	ReplyToID *string    `json:"reply_to_id,omitempty"`

	Files     []FileMeta      `json:"files,omitempty"`
	Reactions []ReactionGroup `json:"reactions,omitempty"`
	Sender    *User           `json:"sender,omitempty"`
	// ReplyTo is a shallow preview of the referenced message; nil when the
	// original was deleted (replies are allowed to dangle).
	ReplyTo *Message `json:"reply_to,omitempty"`
}

// Reaction is one user's reaction on a message. The schema keys reactions
// on (message_id, user_id), so a user holds at most one emoji per message.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionGroup is aggregated reaction info for display.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"` // user IDs
}
