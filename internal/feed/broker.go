// Package feed delivers live snapshots of query results to subscribers:
// the ordered message list of a channel, and a user's pending connection
// requests. Each change re-delivers the full snapshot (latest wins), so a
// consumer's view is always a complete, ordered result set.
package feed

import (
	"sync"

	"github.com/educhat/internal/model"
)

// MessageSnapshot is the full ordered message list of one channel plus the
// participants' read watermarks (user id -> last read seq).
type MessageSnapshot struct {
	ChannelID string           `json:"channel_id"`
	Messages  []model.Message  `json:"messages"`
	Reads     map[string]int64 `json:"reads,omitempty"`
}

// RequestSnapshot is a user's pending connection requests, both directions.
type RequestSnapshot struct {
	UserID   string                    `json:"user_id"`
	Incoming []model.ConnectionRequest `json:"incoming"`
	Outgoing []model.ConnectionRequest `json:"outgoing"`
}

// MessageSub is a live subscription to one channel's message feed. Reading
// from C yields snapshots until Cancel; C is closed on cancellation.
type MessageSub struct {
	C <-chan MessageSnapshot

	ch   chan MessageSnapshot
	once sync.Once
	stop func(*MessageSub)
}

// Cancel tears the subscription down. Idempotent and safe to call during
// teardown of the owning scope; no delivery happens after it returns.
func (s *MessageSub) Cancel() {
	s.once.Do(func() { s.stop(s) })
}

// RequestSub is a live subscription to one user's request feed.
type RequestSub struct {
	C <-chan RequestSnapshot

	ch   chan RequestSnapshot
	once sync.Once
	stop func(*RequestSub)
}

func (s *RequestSub) Cancel() {
	s.once.Do(func() { s.stop(s) })
}

// Broker fans snapshots out to subscribers. Delivery is latest-wins and
// never blocks a publisher: a slow consumer sees the newest snapshot, not
// a backlog of stale ones.
type Broker struct {
	mu      sync.RWMutex
	msgSubs map[string]map[*MessageSub]struct{} // channelID -> subs
	reqSubs map[string]map[*RequestSub]struct{} // userID -> subs
}

func NewBroker() *Broker {
	return &Broker{
		msgSubs: make(map[string]map[*MessageSub]struct{}),
		reqSubs: make(map[string]map[*RequestSub]struct{}),
	}
}

// SubscribeMessages opens a live feed for the channel. The first snapshot
// arrives with the next publish; callers wanting an immediate view trigger
// one publish after subscribing.
func (b *Broker) SubscribeMessages(channelID string) *MessageSub {
	sub := &MessageSub{ch: make(chan MessageSnapshot, 1)}
	sub.C = sub.ch
	sub.stop = func(s *MessageSub) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.msgSubs[channelID]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(b.msgSubs, channelID)
			}
		}
		close(s.ch)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.msgSubs[channelID]; !ok {
		b.msgSubs[channelID] = make(map[*MessageSub]struct{})
	}
	b.msgSubs[channelID][sub] = struct{}{}
	return sub
}

// SubscribeRequests opens a live feed of the user's pending requests.
func (b *Broker) SubscribeRequests(userID string) *RequestSub {
	sub := &RequestSub{ch: make(chan RequestSnapshot, 1)}
	sub.C = sub.ch
	sub.stop = func(s *RequestSub) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.reqSubs[userID]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(b.reqSubs, userID)
			}
		}
		close(s.ch)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.reqSubs[userID]; !ok {
		b.reqSubs[userID] = make(map[*RequestSub]struct{})
	}
	b.reqSubs[userID][sub] = struct{}{}
	return sub
}

// PublishMessages delivers a snapshot to every subscriber of the channel.
// Publish and Cancel serialize on the broker lock, so delivery never races
// a closed channel.
func (b *Broker) PublishMessages(snap MessageSnapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.msgSubs[snap.ChannelID] {
		deliverMessage(sub.ch, snap)
	}
}

// PublishRequests delivers a request snapshot to the user's subscribers.
func (b *Broker) PublishRequests(snap RequestSnapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.reqSubs[snap.UserID] {
		deliverRequest(sub.ch, snap)
	}
}

// deliverMessage replaces a pending stale snapshot with the newest one
// instead of blocking.
func deliverMessage(ch chan MessageSnapshot, snap MessageSnapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func deliverRequest(ch chan RequestSnapshot, snap RequestSnapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
