// Package changefeed turns committed store changes into per-session notifications and
// fans them out to subscribers, optionally across instances through Redis pub/sub.
package changefeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/store"
)

// DefaultBuffer is the per-subscription channel size.
const DefaultBuffer = 16

// Publisher sends a notification to every instance (including this one).
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Subscriber listens for a session's notifications published by any instance.
type Subscriber interface {
	Subscribe(sessionID uuid.UUID, handler func(Notification)) (cancel func(), err error)
}

// Subscription receives notifications for one session until cancelled.
type Subscription struct {
	C <-chan Notification

	ch        chan Notification
	id        uint64
	sessionID uuid.UUID
	feed      *Feed
	once      sync.Once
}

// Cancel stops delivery and closes C. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() { s.feed.unsubscribe(s) })
}

// Feed maintains session_id -> set of subscriptions. With a Publisher configured, every
// notification goes through it and is delivered when the bridge hands it back, so each
// instance delivers it exactly once.
type Feed struct {
	topics  map[uuid.UUID]map[uint64]*Subscription
	bridges map[uuid.UUID]func()
	nextID  uint64
	mu      sync.RWMutex
	buffer  int
	pub     Publisher
	sub     Subscriber
	logger  *zap.Logger
}

var _ store.ChangeSink = (*Feed)(nil)

// New creates a feed. pub and sub may be nil for single-instance delivery.
func New(logger *zap.Logger, buffer int, pub Publisher, sub Subscriber) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Feed{
		topics:  make(map[uuid.UUID]map[uint64]*Subscription),
		bridges: make(map[uuid.UUID]func()),
		buffer:  buffer,
		pub:     pub,
		sub:     sub,
		logger:  logger,
	}
}

// Emit maps a committed change and publishes the resulting notifications.
func (f *Feed) Emit(ctx context.Context, c store.Change) {
	for _, n := range Map(c) {
		f.Publish(ctx, n)
	}
}

// Publish delivers n to the session's subscribers, through the bridge when configured.
func (f *Feed) Publish(ctx context.Context, n Notification) {
	if f.pub != nil {
		err := f.pub.Publish(ctx, n)
		if err == nil {
			return
		}
		f.logger.Warn("publish notification failed, delivering locally",
			zap.String("session_id", n.SessionID.String()), zap.String("kind", string(n.Kind)), zap.Error(err))
	}
	f.deliver(n)
}

// Subscribe registers a subscription for the session. The first local subscriber of a
// session starts the bridge subscription for it.
func (f *Feed) Subscribe(sessionID uuid.UUID) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.topics[sessionID] == nil {
		if f.sub != nil {
			cancel, err := f.sub.Subscribe(sessionID, f.deliver)
			if err != nil {
				return nil, fmt.Errorf("subscribe session %s: %w", sessionID, err)
			}
			f.bridges[sessionID] = cancel
		}
		f.topics[sessionID] = make(map[uint64]*Subscription)
	}
	f.nextID++
	ch := make(chan Notification, f.buffer)
	s := &Subscription{C: ch, ch: ch, id: f.nextID, sessionID: sessionID, feed: f}
	f.topics[sessionID][s.id] = s
	f.logger.Debug("feed subscription added", zap.String("session_id", sessionID.String()), zap.Uint64("subscription", s.id))
	return s, nil
}

// Subscribers returns the number of local subscriptions to the session.
func (f *Feed) Subscribers(sessionID uuid.UUID) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.topics[sessionID])
}

func (f *Feed) unsubscribe(s *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.topics[s.sessionID]; ok {
		delete(m, s.id)
		if len(m) == 0 {
			delete(f.topics, s.sessionID)
			if cancel, ok := f.bridges[s.sessionID]; ok {
				cancel()
				delete(f.bridges, s.sessionID)
			}
		}
	}
	close(s.ch)
}

// deliver hands n to local subscribers without blocking. A full buffer already holds a
// pending notification that forces a refresh, so the extra one is dropped.
func (f *Feed) deliver(n Notification) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.topics[n.SessionID] {
		select {
		case s.ch <- n:
		default:
		}
	}
}
