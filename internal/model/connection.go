package model

import "time"

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
)

// ConnectionRequest is a directed edge in the connection graph. Rejection
// deletes the row, so at most one non-rejected request exists per pair.
type ConnectionRequest struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"sender_id"`
	ReceiverID string        `json:"receiver_id"`
	Status     RequestStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	AcceptedAt *time.Time    `json:"accepted_at,omitempty"`

	Sender   *User `json:"sender,omitempty"`
	Receiver *User `json:"receiver,omitempty"`
}

// Involves reports whether the given user is either endpoint.
func (r *ConnectionRequest) Involves(userID string) bool {
	return r.SenderID == userID || r.ReceiverID == userID
}

// Peer returns the other endpoint relative to userID.
func (r *ConnectionRequest) Peer(userID string) string {
	if r.SenderID == userID {
		return r.ReceiverID
	}
	return r.SenderID
}
