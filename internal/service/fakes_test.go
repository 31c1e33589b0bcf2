package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/educhat/internal/feed"
	"github.com/educhat/internal/model"
	"github.com/educhat/internal/repository"
)

// In-memory stand-ins for the Postgres repositories, mirroring their
// documented semantics closely enough for service-level tests.

type fakeUsers struct {
	byID map[string]*model.User
}

func newFakeUsers(users ...*model.User) *fakeUsers {
	f := &fakeUsers{byID: make(map[string]*model.User)}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUsers) Upsert(_ context.Context, u *model.User) error {
	cp := *u
	f.byID[u.ID] = &cp
	return nil
}

func (f *fakeUsers) SearchByName(_ context.Context, query string, limit int) ([]model.User, error) {
	var out []model.User
	for _, u := range f.byID {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeUsers) SetOnline(_ context.Context, userID string, online bool) error {
	if u, ok := f.byID[userID]; ok {
		u.IsOnline = online
	}
	return nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, userID, displayName, avatarURL string) error {
	if u, ok := f.byID[userID]; ok {
		u.DisplayName = displayName
		u.AvatarURL = avatarURL
	}
	return nil
}

type fakeConnections struct {
	users *fakeUsers
	reqs  map[string]*model.ConnectionRequest
}

func newFakeConnections(users *fakeUsers) *fakeConnections {
	return &fakeConnections{users: users, reqs: make(map[string]*model.ConnectionRequest)}
}

func (f *fakeConnections) Create(_ context.Context, req *model.ConnectionRequest) error {
	cp := *req
	f.reqs[req.ID] = &cp
	return nil
}

func (f *fakeConnections) GetByID(_ context.Context, id string) (*model.ConnectionRequest, error) {
	req, ok := f.reqs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (f *fakeConnections) ExistsBetween(_ context.Context, userA, userB string) (bool, error) {
	for _, req := range f.reqs {
		if req.Involves(userA) && req.Involves(userB) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeConnections) AreConnected(_ context.Context, userA, userB string) (bool, error) {
	for _, req := range f.reqs {
		if req.Status == model.RequestStatusAccepted && req.Involves(userA) && req.Involves(userB) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeConnections) Accept(_ context.Context, id string, at time.Time) (bool, error) {
	req, ok := f.reqs[id]
	if !ok || req.Status != model.RequestStatusPending {
		return false, nil
	}
	req.Status = model.RequestStatusAccepted
	req.AcceptedAt = &at
	return true, nil
}

func (f *fakeConnections) Delete(_ context.Context, id string) error {
	delete(f.reqs, id)
	return nil
}

func (f *fakeConnections) ListPendingIncoming(_ context.Context, userID string) ([]model.ConnectionRequest, error) {
	return f.listPending(func(r *model.ConnectionRequest) bool { return r.ReceiverID == userID }), nil
}

func (f *fakeConnections) ListPendingOutgoing(_ context.Context, userID string) ([]model.ConnectionRequest, error) {
	return f.listPending(func(r *model.ConnectionRequest) bool { return r.SenderID == userID }), nil
}

func (f *fakeConnections) listPending(match func(*model.ConnectionRequest) bool) []model.ConnectionRequest {
	out := make([]model.ConnectionRequest, 0)
	for _, req := range f.reqs {
		if req.Status == model.RequestStatusPending && match(req) {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeConnections) ListAcceptedPeers(_ context.Context, userID string) ([]model.User, error) {
	out := make([]model.User, 0)
	for _, req := range f.reqs {
		if req.Status != model.RequestStatusAccepted || !req.Involves(userID) {
			continue
		}
		if u, ok := f.users.byID[req.Peer(userID)]; ok {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

type unreadKey struct{ channel, user string }

type fakeChannelStore struct {
	byID   map[string]*model.Channel
	unread map[unreadKey]int
}

func newFakeChannels() *fakeChannelStore {
	return &fakeChannelStore{byID: make(map[string]*model.Channel), unread: make(map[unreadKey]int)}
}

func (f *fakeChannelStore) CreateIfAbsent(_ context.Context, c *model.Channel) error {
	if _, ok := f.byID[c.ID]; ok {
		return nil
	}
	cp := *c
	f.byID[c.ID] = &cp
	return nil
}

func (f *fakeChannelStore) GetByID(_ context.Context, id string) (*model.Channel, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeChannelStore) ListForUser(_ context.Context, userID string) ([]model.Channel, error) {
	out := make([]model.Channel, 0)
	for _, c := range f.byID {
		if c.HasParticipant(userID) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeChannelStore) UnreadCount(_ context.Context, channelID, userID string) (int, error) {
	return f.unread[unreadKey{channelID, userID}], nil
}

type fakeMessageStore struct {
	mu      sync.Mutex
	nextSeq int64
	msgs    map[string]*model.Message
	reads   map[unreadKey]int64
}

func newFakeMessages() *fakeMessageStore {
	return &fakeMessageStore{msgs: make(map[string]*model.Message), reads: make(map[unreadKey]int64)}
}

func (f *fakeMessageStore) Append(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq++
	m.Seq = f.nextSeq
	m.CreatedAt = time.Now().UTC()
	cp := *m
	f.msgs[m.ID] = &cp
	return nil
}

func (f *fakeMessageStore) GetByID(_ context.Context, id string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessageStore) byChannel(channelID string) []model.Message {
	out := make([]model.Message, 0)
	for _, m := range f.msgs {
		if m.ChannelID == channelID {
			out = append(out, *m)
		}
	}
	return out
}

func (f *fakeMessageStore) ListByChannel(_ context.Context, channelID string, limit, offset int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.byChannel(channelID)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessageStore) ListAscending(_ context.Context, channelID string, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.byChannel(channelID)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessageStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.msgs, id)
	return nil
}

func (f *fakeMessageStore) MarkReadUpTo(_ context.Context, channelID, userID string, seq int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := unreadKey{channelID, userID}
	if seq > f.reads[key] {
		f.reads[key] = seq
	}
	return nil
}

func (f *fakeMessageStore) ListReads(_ context.Context, channelID string) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64)
	for key, seq := range f.reads {
		if key.channel == channelID {
			out[key.user] = seq
		}
	}
	return out, nil
}

type fakeReactionStore struct {
	msgs *fakeMessageStore
	// messageID -> userID -> emoji
	byMessage map[string]map[string]string
}

func newFakeReactions(msgs *fakeMessageStore) *fakeReactionStore {
	return &fakeReactionStore{msgs: msgs, byMessage: make(map[string]map[string]string)}
}

func (f *fakeReactionStore) Set(_ context.Context, messageID, userID, emoji string) error {
	if _, ok := f.byMessage[messageID]; !ok {
		f.byMessage[messageID] = make(map[string]string)
	}
	f.byMessage[messageID][userID] = emoji
	return nil
}

func (f *fakeReactionStore) Remove(_ context.Context, messageID, userID, emoji string) (bool, error) {
	users, ok := f.byMessage[messageID]
	if !ok || users[userID] != emoji {
		return false, nil
	}
	delete(users, userID)
	return true, nil
}

func (f *fakeReactionStore) ListByChannel(_ context.Context, channelID string) ([]model.Reaction, error) {
	out := make([]model.Reaction, 0)
	for messageID, users := range f.byMessage {
		m, ok := f.msgs.msgs[messageID]
		if !ok || m.ChannelID != channelID {
			continue
		}
		userIDs := make([]string, 0, len(users))
		for uid := range users {
			userIDs = append(userIDs, uid)
		}
		sort.Strings(userIDs)
		for _, uid := range userIDs {
			out = append(out, model.Reaction{MessageID: messageID, UserID: uid, Emoji: users[uid]})
		}
	}
	return out, nil
}

// fakeTyping records typing-flag writes.
type fakeTyping struct {
	mu    sync.Mutex
	flags map[unreadKey]bool
}

func newFakeTyping() *fakeTyping {
	return &fakeTyping{flags: make(map[unreadKey]bool)}
}

func (f *fakeTyping) SetTyping(_ context.Context, channelID, userID string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[unreadKey{channelID, userID}] = typing
	return nil
}

func (f *fakeTyping) get(channelID, userID string) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.flags[unreadKey{channelID, userID}]
	return v, ok
}

// capturingPublisher records every snapshot pushed through the broker
// interfaces.
type capturingPublisher struct {
	mu       sync.Mutex
	messages []feed.MessageSnapshot
	requests []feed.RequestSnapshot
}

func (p *capturingPublisher) PublishMessages(snap feed.MessageSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, snap)
}

func (p *capturingPublisher) PublishRequests(snap feed.RequestSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, snap)
}

func (p *capturingPublisher) lastMessages() (feed.MessageSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.messages) == 0 {
		return feed.MessageSnapshot{}, false
	}
	return p.messages[len(p.messages)-1], true
}
