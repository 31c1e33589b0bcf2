package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/educhat/internal/feed"
	"github.com/educhat/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufSize    = 256
)

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client represents a single WebSocket connection.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [ReadPump, WritePump] -> Close -> Wait.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan OutgoingMessage
	userID string

	// done is used as a non-blocking guard in enqueue.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup

	// Live feed subscriptions owned by this connection. Forwarder
	// goroutines drain them into send; Cancel closes the feed channel and
	// the forwarder exits. A client watches at most one channel feed at a
	// time: subscribing to another channel cancels the previous feed.
	subMu      sync.Mutex
	msgChannel string
	msgSub     *feed.MessageSub
	reqSub     *feed.RequestSub
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan OutgoingMessage, sendBufSize),
		userID: userID,
		done:   make(chan struct{}),
	}
}

// Start launches ReadPump and WritePump goroutines with controlled lifecycle.
// ctx controls pump lifetime; cancel is stored for Close().
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		c.conn.Close()
	})
}

// attachMessageFeed installs the channel feed subscription and starts its
// forwarder. Any previously watched channel is cancelled first: switching
// conversations must never leave the old feed delivering.
func (c *Client) attachMessageFeed(channelID string, sub *feed.MessageSub) {
	c.subMu.Lock()
	prev := c.msgSub
	c.msgChannel = channelID
	c.msgSub = sub
	c.subMu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	go func() {
		for snap := range sub.C {
			c.enqueue(OutgoingMessage{Type: EventMessageFeed, Payload: snap})
		}
	}()
}

// detachMessageFeed cancels the current channel feed if it matches channelID.
func (c *Client) detachMessageFeed(channelID string) {
	c.subMu.Lock()
	var sub *feed.MessageSub
	if c.msgChannel == channelID {
		sub = c.msgSub
		c.msgSub = nil
		c.msgChannel = ""
	}
	c.subMu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// attachRequestFeed installs the connection-request feed. Every connection
// gets one on register.
func (c *Client) attachRequestFeed(sub *feed.RequestSub) {
	c.subMu.Lock()
	if c.reqSub != nil {
		c.reqSub.Cancel()
	}
	c.reqSub = sub
	c.subMu.Unlock()

	go func() {
		for snap := range sub.C {
			c.enqueue(OutgoingMessage{Type: EventRequestFeed, Payload: snap})
		}
	}()
}

// cancelFeeds tears down every subscription. Called on unregister; after it
// returns no forwarder will enqueue again.
func (c *Client) cancelFeeds() {
	c.subMu.Lock()
	msgSub := c.msgSub
	c.msgSub = nil
	c.msgChannel = ""
	reqSub := c.reqSub
	c.reqSub = nil
	c.subMu.Unlock()

	if msgSub != nil {
		msgSub.Cancel()
	}
	if reqSub != nil {
		reqSub.Cancel()
	}
}

// enqueue hands the message to writePump. Never blocks: a full send buffer
// means a slow client, which gets closed.
func (c *Client) enqueue(msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

// readPump reads messages from the WebSocket connection.
// Exits on read error (triggered by conn.Close from Close() or WritePump exit).
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error user=%s: %v", c.userID, err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Errorf("ws unmarshal error user=%s: %v", c.userID, err)
			continue
		}

		c.hub.HandleMessage(ctx, c, msg)
	}
}

// writePump writes messages to the WebSocket connection.
// Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Errorf("ws close message user=%s: %v", c.userID, err)
			}
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error user=%s: %v", c.userID, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
