package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func typingKey(channelID, userID string) string {
	return "typing:" + channelID + ":" + userID
}

// SetTyping writes the typing flag with a key TTL. Redis expires the key
// itself, so a client that goes away mid-type cannot leave a stuck flag.
func (c *Client) SetTyping(ctx context.Context, channelID, userID string, ttl time.Duration) error {
	return c.cli.Set(ctx, typingKey(channelID, userID), "1", ttl).Err()
}

// ClearTyping removes the flag explicitly (user stopped typing or sent).
func (c *Client) ClearTyping(ctx context.Context, channelID, userID string) error {
	return c.cli.Del(ctx, typingKey(channelID, userID)).Err()
}

// TypingUsers returns the user ids with a live typing flag in the channel.
func (c *Client) TypingUsers(ctx context.Context, channelID string) ([]string, error) {
	prefix := "typing:" + channelID + ":"
	var users []string
	var cursor uint64
	for {
		keys, next, err := c.cli.Scan(ctx, cursor, prefix+"*", 64).Result()
		if err != nil {
			return nil, fmt.Errorf("redis typing scan: %w", err)
		}
		for _, k := range keys {
			users = append(users, k[len(prefix):])
		}
		cursor = next
		if cursor == 0 {
			return users, nil
		}
	}
}
