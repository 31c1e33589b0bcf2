package model

// PushSubscription is one browser Web Push registration for a user.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	UserID   string `json:"user_id"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}
