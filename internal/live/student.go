package live

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/participants"
)

// StudentSnapshot is a student's view of a session. The active question never carries
// its answer key.
type StudentSnapshot struct {
	Version        uint64              `json:"version"`
	Session        *models.Session     `json:"session"`
	ActiveQuestion *models.Question    `json:"active_question"`
	Participant    *models.Participant `json:"participant"`
	HasAnswered    bool                `json:"has_answered"`
}

// StudentSession is a student's projection plus the commands a student can issue.
type StudentSession struct {
	svc       Services
	studentID uuid.UUID
	logger    *zap.Logger
	follower  follower

	refreshMu     sync.Mutex
	mu            sync.RWMutex
	snap          StudentSnapshot
	participantID uuid.UUID
	// answered caches which questions this participant answered.
	answered map[uuid.UUID]bool
	onChange func(StudentSnapshot)
}

// NewStudentSession creates a student projection that has not joined yet.
func NewStudentSession(svc Services, studentID uuid.UUID, logger *zap.Logger) *StudentSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &StudentSession{svc: svc, studentID: studentID, logger: logger, answered: make(map[uuid.UUID]bool)}
	s.follower = follower{feed: svc.Feed, logger: logger, refresh: s.refresh}
	return s
}

// OnChange registers fn to be called with every refreshed snapshot.
func (s *StudentSession) OnChange(fn func(StudentSnapshot)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Snapshot returns the current view.
func (s *StudentSession) Snapshot() StudentSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Join enters the session holding code and starts following it.
func (s *StudentSession) Join(ctx context.Context, code string, partner *uuid.UUID) (*models.Participant, error) {
	p, err := s.svc.Participants.Join(ctx, code, participants.StudentIdentity{StudentID: s.studentID, PartnerStudentID: partner})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.participantID = p.ID
	s.mu.Unlock()
	if err := s.follower.follow(p.SessionID); err != nil {
		return nil, fmt.Errorf("subscribe session: %w", err)
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Run keeps the snapshot current until ctx ends, Leave is called or Close is called.
func (s *StudentSession) Run(ctx context.Context) error {
	return s.follower.run(ctx)
}

// Close stops following the session without leaving it.
func (s *StudentSession) Close() {
	s.follower.stop()
}

func (s *StudentSession) participant() (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.participantID == uuid.Nil {
		return uuid.Nil, ErrNotAttached
	}
	return s.participantID, nil
}

// SubmitAnswer answers the active question. A question already answered from this
// projection is rejected locally; the store decides in every other case.
func (s *StudentSession) SubmitAnswer(ctx context.Context, value string) (*models.Answer, error) {
	pid, err := s.participant()
	if err != nil {
		return nil, err
	}
	snap := s.Snapshot()
	if snap.ActiveQuestion == nil {
		return nil, apperr.ErrNoActiveQuestion
	}
	if snap.HasAnswered {
		return nil, apperr.ErrAlreadyAnswered
	}
	qid := snap.ActiveQuestion.ID
	a, err := s.svc.Participants.SubmitAnswer(ctx, s.studentID, pid, qid, value)
	if errors.Is(err, apperr.ErrAlreadyAnswered) {
		s.markAnswered(qid)
	}
	if err != nil {
		return nil, err
	}
	s.markAnswered(qid)
	if err := s.refresh(ctx); err != nil {
		s.logger.Warn("refresh after answer failed", zap.Error(err))
	}
	return a, nil
}

func (s *StudentSession) markAnswered(questionID uuid.UUID) {
	s.mu.Lock()
	s.answered[questionID] = true
	if s.snap.ActiveQuestion != nil && s.snap.ActiveQuestion.ID == questionID {
		s.snap.HasAnswered = true
	}
	s.mu.Unlock()
}

// Leave marks the participant as left and stops following the session. Other participants
// and the session itself are unaffected.
func (s *StudentSession) Leave(ctx context.Context) (*models.Participant, error) {
	pid, err := s.participant()
	if err != nil {
		return nil, err
	}
	p, err := s.svc.Participants.Leave(ctx, s.studentID, pid)
	if err != nil {
		return nil, err
	}
	s.follower.stop()
	s.mu.Lock()
	s.snap.Participant = p
	s.mu.Unlock()
	return p, nil
}

func (s *StudentSession) refresh(ctx context.Context) error {
	pid, err := s.participant()
	if err != nil {
		return err
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	p, err := s.svc.Participants.Get(ctx, s.studentID, pid)
	if err != nil {
		return err
	}
	sess, err := s.svc.Sessions.Get(ctx, p.SessionID)
	if err != nil {
		return err
	}
	active, err := s.svc.Questions.Active(ctx, p.SessionID)
	if err != nil {
		return err
	}
	answered := false
	if active != nil {
		view := active.PublicView()
		active = &view
		if answered, err = s.hasAnswered(ctx, pid, active.ID); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.snap = StudentSnapshot{
		Version:        s.snap.Version + 1,
		Session:        sess,
		ActiveQuestion: active,
		Participant:    p,
		HasAnswered:    answered,
	}
	snap, fn := s.snap, s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
	return nil
}

// hasAnswered consults the cache first and the store once per unanswered question.
func (s *StudentSession) hasAnswered(ctx context.Context, participantID, questionID uuid.UUID) (bool, error) {
	s.mu.RLock()
	done, known := s.answered[questionID]
	s.mu.RUnlock()
	if known {
		return done, nil
	}
	done, err := s.svc.Participants.HasAnswered(ctx, participantID, questionID)
	if err != nil {
		return false, err
	}
	if done {
		s.mu.Lock()
		s.answered[questionID] = true
		s.mu.Unlock()
	}
	return done, nil
}
