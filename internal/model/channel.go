package model

import (
	"strings"
	"time"
)

// PairKeySeparator joins the two sorted participant ids into a channel id.
// User ids come from the identity service and never contain ':'.
const PairKeySeparator = ":"

// PairKey returns the canonical, order-independent channel id for a pair of
// user ids: the ids sorted and joined. Resolving (a,b) and (b,a) yields the
// same key, which makes channel creation idempotent by primary key.
func PairKey(userA, userB string) string {
	a, b := SortPair(userA, userB)
	return a + PairKeySeparator + b
}

// SortPair returns the two ids in canonical (lexicographic) order.
func SortPair(userA, userB string) (string, string) {
	if userA > userB {
		return userB, userA
	}
	return userA, userB
}

// SplitPairKey recovers the two participant ids from a channel id.
func SplitPairKey(id string) (string, string, bool) {
	a, b, ok := strings.Cut(id, PairKeySeparator)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// Channel is the durable 1:1 conversation record for one unordered pair of
// users. Its id is the canonical pair key; participants are stored sorted.
type Channel struct {
	ID                  string     `json:"id"`
	UserA               string     `json:"user_a"`
	UserB               string     `json:"user_b"`
	CreatedAt           time.Time  `json:"created_at"`
	LastMessageText     string     `json:"last_message_text"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`
	LastMessageSenderID string     `json:"last_message_sender_id"`
}

// HasParticipant reports whether userID belongs to the channel.
func (c *Channel) HasParticipant(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}

// Peer returns the other participant relative to userID.
func (c *Channel) Peer(userID string) string {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

// ChannelWithMeta is a channel enriched for the conversation list.
type ChannelWithMeta struct {
	Channel     Channel `json:"channel"`
	Peer        *User   `json:"peer,omitempty"`
	UnreadCount int     `json:"unread_count"`
}
