// Package live holds the read-only projections a teacher or a student works from. Each
// projection subscribes to its session's change feed and re-fetches authoritative state on
// every notification; commands go to the owning service and never touch the snapshot.
package live

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/changefeed"
	"github.com/aura-classroom/backend/internal/participants"
	"github.com/aura-classroom/backend/internal/questions"
	"github.com/aura-classroom/backend/internal/sessions"
)

// ErrNotAttached is returned by Run and commands before the projection has a session.
var ErrNotAttached = errors.New("live: projection is not attached to a session")

// Services are the collaborators a projection issues commands to and reads from.
type Services struct {
	Sessions     *sessions.Registry
	Questions    *questions.Coordinator
	Participants *participants.Tracker
	Feed         *changefeed.Feed
}

// follower owns the subscription and refresh loop shared by both projections.
type follower struct {
	feed    *changefeed.Feed
	logger  *zap.Logger
	refresh func(ctx context.Context) error

	mu        sync.Mutex
	sub       *changefeed.Subscription
	sessionID uuid.UUID
}

func (f *follower) follow(sessionID uuid.UUID) error {
	sub, err := f.feed.Subscribe(sessionID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	prev := f.sub
	f.sub = sub
	f.sessionID = sessionID
	f.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}
	return nil
}

func (f *follower) session() (uuid.UUID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID, f.sessionID != uuid.Nil
}

func (f *follower) subscription() *changefeed.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sub
}

// stop cancels the subscription; Run returns once it notices.
func (f *follower) stop() {
	f.mu.Lock()
	sub := f.sub
	f.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// run refreshes on every notification until ctx ends or the subscription is cancelled.
// Notifications that piled up while a refresh was running collapse into one refresh.
func (f *follower) run(ctx context.Context) error {
	sub := f.subscription()
	if sub == nil {
		return ErrNotAttached
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-sub.C:
			if !ok {
				return nil
			}
			closed := drain(sub.C)
			if err := f.refresh(ctx); err != nil {
				f.logger.Warn("projection refresh failed",
					zap.String("session_id", n.SessionID.String()),
					zap.String("kind", string(n.Kind)),
					zap.Error(err),
				)
			}
			if closed {
				return nil
			}
		}
	}
}

// drain empties c without blocking and reports whether it was closed.
func drain(c <-chan changefeed.Notification) bool {
	for {
		select {
		case _, ok := <-c:
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}
