package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/educhat/internal/feed"
	"github.com/educhat/internal/logger"
	"github.com/educhat/internal/model"
	"github.com/educhat/internal/presence"
	"github.com/educhat/internal/service"
)

const handleTimeout = 5 * time.Second

// Hub owns the set of live WebSocket connections and dispatches their
// events into the service layer. Feed delivery itself runs through the
// broker: mutations publish snapshots, per-client forwarders drain them.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	users       *service.UserService
	connections *service.ConnectionService
	channels    *service.ChannelService
	messages    *service.MessageService
	tracker     *presence.Tracker
	broker      *feed.Broker

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(
	users *service.UserService,
	connections *service.ConnectionService,
	channels *service.ChannelService,
	messages *service.MessageService,
	tracker *presence.Tracker,
	broker *feed.Broker,
	maxConns int,
) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		maxConns:    maxConns,
		users:       users,
		connections: connections,
		channels:    channels,
		messages:    messages,
		tracker:     tracker,
		broker:      broker,
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		done:        make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.cancelFeeds()
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	if err := h.users.SetOnline(ctx, c.userID, true); err != nil {
		logger.Errorf("ws set online user=%s: %v", c.userID, err)
	}
	h.broadcastUserStatus(c.userID, true)

	// Every connection carries the user's request feed; channel feeds are
	// opted into per channel.
	c.attachRequestFeed(h.broker.SubscribeRequests(c.userID))
	h.connections.PublishRequests(ctx, c.userID)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.cancelFeeds()
	c.Close()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		if err := h.users.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.userID, err)
		}
		h.broadcastUserStatus(c.userID, false)
	}
}

// HandleMessage dispatches incoming WebSocket events.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventSubscribe:
		h.handleSubscribe(ctx, c, msg)
	case EventUnsubscribe:
		c.detachMessageFeed(msg.ChannelID)
	case EventSendMessage:
		h.handleSend(ctx, c, msg)
	case EventTyping:
		h.handleTyping(ctx, c, msg)
	case EventToggleReact:
		h.handleToggleReaction(ctx, c, msg)
	case EventMarkRead:
		h.handleMarkRead(ctx, c, msg)
	case EventDeleteMessage:
		h.handleDelete(ctx, c, msg)
	default:
		h.sendError(c, "unknown event type")
	}
}

func (h *Hub) handleSubscribe(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ChannelID == "" {
		h.sendError(c, "channel_id required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if _, err := h.channels.Get(ctx, c.userID, msg.ChannelID); err != nil {
		h.sendServiceError(c, "subscribe", err)
		return
	}

	c.attachMessageFeed(msg.ChannelID, h.broker.SubscribeMessages(msg.ChannelID))
	// Prime the new subscription with the current snapshot.
	h.messages.PublishChannel(ctx, msg.ChannelID)
}

func (h *Hub) handleSend(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()
	if msg.ChannelID == "" {
		h.sendError(c, "channel_id required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	var replyToID *string
	if msg.ReplyToID != "" {
		replyToID = &msg.ReplyToID
	}

	if _, err := h.messages.Send(ctx, c.userID, msg.ChannelID, msg.Text, msg.Files, replyToID); err != nil {
		h.sendServiceError(c, "send", err)
		return
	}

	// Send already cleared the sender's typing flag; fan the new state out.
	h.notifyChannelUpdated(msg.ChannelID)
	h.fanOutTyping(ctx, msg.ChannelID)
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ChannelID == "" {
		return
	}
	a, b, ok := model.SplitPairKey(msg.ChannelID)
	if !ok || (a != c.userID && b != c.userID) {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if err := h.tracker.SetTyping(ctx, msg.ChannelID, c.userID, msg.Typing); err != nil {
		logger.Errorf("ws typing channel=%s user=%s: %v", msg.ChannelID, c.userID, err)
		return
	}
	h.fanOutTyping(ctx, msg.ChannelID)
}

// fanOutTyping sends each participant the current typing set, minus their
// own id.
func (h *Hub) fanOutTyping(ctx context.Context, channelID string) {
	a, b, ok := model.SplitPairKey(channelID)
	if !ok {
		return
	}
	typing, err := h.tracker.Typing(ctx, channelID)
	if err != nil {
		logger.Errorf("ws typing users channel=%s: %v", channelID, err)
		return
	}

	for _, uid := range []string{a, b} {
		others := make([]string, 0, len(typing))
		for _, t := range typing {
			if t != uid {
				others = append(others, t)
			}
		}
		h.sendToUser(uid, OutgoingMessage{Type: EventTyping, Payload: TypingPayload{
			ChannelID: channelID,
			UserIDs:   others,
			Label:     presence.Label(h.displayNames(ctx, others)),
		}})
	}
}

func (h *Hub) displayNames(ctx context.Context, ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		u, err := h.users.Get(ctx, id)
		if err != nil {
			names = append(names, id)
			continue
		}
		names = append(names, u.DisplayName)
	}
	return names
}

func (h *Hub) handleToggleReaction(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.MessageID == "" || msg.Emoji == "" {
		h.sendError(c, "message_id and emoji required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if err := h.messages.ToggleReaction(ctx, c.userID, msg.MessageID, msg.Emoji); err != nil {
		h.sendServiceError(c, "toggle_reaction", err)
	}
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ChannelID == "" || msg.Seq <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if err := h.messages.MarkRead(ctx, c.userID, msg.ChannelID, msg.Seq); err != nil {
		h.sendServiceError(c, "mark_read", err)
		return
	}
	h.notifyChannelUpdated(msg.ChannelID)
}

func (h *Hub) handleDelete(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.MessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if err := h.messages.Delete(ctx, c.userID, msg.MessageID); err != nil {
		h.sendServiceError(c, "delete_message", err)
	}
}

// notifyChannelUpdated nudges both participants to refresh their
// conversation list.
func (h *Hub) notifyChannelUpdated(channelID string) {
	a, b, ok := model.SplitPairKey(channelID)
	if !ok {
		return
	}
	out := OutgoingMessage{Type: EventChannelUpdated, Payload: ChannelUpdatedPayload{ChannelID: channelID}}
	h.sendToUser(a, out)
	h.sendToUser(b, out)
}

// broadcastUserStatus informs the user's accepted connections about an
// online/offline transition.
func (h *Hub) broadcastUserStatus(userID string, online bool) {
	evType := EventUserOffline
	if online {
		evType = EventUserOnline
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	peers, err := h.connections.ListConnections(ctx, userID)
	if err != nil {
		logger.Errorf("ws get peers for status broadcast user=%s: %v", userID, err)
		return
	}

	out := OutgoingMessage{Type: evType, Payload: UserStatusPayload{UserID: userID, Online: online}}
	for _, peer := range peers {
		h.sendToUser(peer.ID, out)
	}
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

func (h *Hub) sendError(c *Client, text string) {
	c.enqueue(OutgoingMessage{Type: EventError, Payload: text})
}

// sendServiceError maps service errors onto client-facing texts; anything
// unexpected is logged and reported generically.
func (h *Hub) sendServiceError(c *Client, op string, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		h.sendError(c, op+": not found")
	case errors.Is(err, service.ErrForbidden):
		h.sendError(c, op+": forbidden")
	case errors.Is(err, service.ErrEmptyMessage):
		h.sendError(c, op+": message is empty")
	default:
		logger.Errorf("ws %s user=%s: %v", op, c.userID, err)
		h.sendError(c, op+": internal error")
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
