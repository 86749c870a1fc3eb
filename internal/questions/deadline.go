package questions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// expireTimeout bounds the store call made when a deadline fires.
const expireTimeout = 10 * time.Second

// Scheduler force-closes timed questions at their deadline. It holds one timer per
// pending question (thread-safe).
type Scheduler struct {
	mu      sync.Mutex
	timers  map[uuid.UUID]deadline
	gen     uint64
	expire  func(ctx context.Context, questionID uuid.UUID) error
	stopped bool
	logger  *zap.Logger
}

// NewScheduler creates a scheduler that calls expire when a question's deadline passes.
func NewScheduler(expire func(ctx context.Context, questionID uuid.UUID) error, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{timers: make(map[uuid.UUID]deadline), expire: expire, logger: logger}
}

type deadline struct {
	timer *time.Timer
	gen   uint64
}

// Schedule arms (or re-arms) the deadline for questionID. A deadline in the past fires now.
func (s *Scheduler) Schedule(questionID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if d, ok := s.timers[questionID]; ok {
		d.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[questionID] = deadline{timer: time.AfterFunc(time.Until(at), func() { s.fire(questionID, gen) }), gen: gen}
	s.logger.Debug("question deadline scheduled", zap.String("question_id", questionID.String()), zap.Time("deadline", at))
}

// Cancel drops the pending deadline for questionID, if any.
func (s *Scheduler) Cancel(questionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.timers[questionID]; ok {
		d.timer.Stop()
		delete(s.timers, questionID)
	}
}

// Pending returns the number of armed deadlines.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending deadline. Later Schedule calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, d := range s.timers {
		d.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) fire(questionID uuid.UUID, gen uint64) {
	s.mu.Lock()
	// A re-armed or cancelled deadline replaced this timer.
	if d, ok := s.timers[questionID]; !ok || d.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, questionID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()
	if err := s.expire(ctx, questionID); err != nil {
		s.logger.Error("expire question failed", zap.String("question_id", questionID.String()), zap.Error(err))
		return
	}
	s.logger.Info("question deadline reached", zap.String("question_id", questionID.String()))
}
