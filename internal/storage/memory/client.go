package memory

import (
	"context"
	"sync"
	"time"
)

// Client is an in-process PresenceStore for -dev mode without Redis.
// Expired entries are dropped lazily on read.
type Client struct {
	mu     sync.RWMutex
	typing map[string]map[string]time.Time // channelID -> userID -> expiry
}

func New() *Client {
	return &Client{typing: make(map[string]map[string]time.Time)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetTyping(ctx context.Context, channelID, userID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.typing[channelID]
	if !ok {
		ch = make(map[string]time.Time)
		c.typing[channelID] = ch
	}
	ch[userID] = time.Now().Add(ttl)
	return nil
}

func (c *Client) ClearTyping(ctx context.Context, channelID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.typing[channelID]; ok {
		delete(ch, userID)
		if len(ch) == 0 {
			delete(c.typing, channelID)
		}
	}
	return nil
}

func (c *Client) TypingUsers(ctx context.Context, channelID string) ([]string, error) {
	now := time.Now()

	c.mu.RLock()
	ch := c.typing[channelID]
	users := make([]string, 0, len(ch))
	expired := false
	for userID, exp := range ch {
		if now.Before(exp) {
			users = append(users, userID)
		} else {
			expired = true
		}
	}
	c.mu.RUnlock()

	if expired {
		c.mu.Lock()
		if ch, ok := c.typing[channelID]; ok {
			for userID, exp := range ch {
				if !now.Before(exp) {
					delete(ch, userID)
				}
			}
			if len(ch) == 0 {
				delete(c.typing, channelID)
			}
		}
		c.mu.Unlock()
	}
	return users, nil
}
