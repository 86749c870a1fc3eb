package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/questions"
	"github.com/aura-classroom/backend/internal/sessions"
)

// TeacherSnapshot is the teacher's view of a session. Values are shared between readers
// and must not be modified.
type TeacherSnapshot struct {
	Version        uint64               `json:"version"`
	Session        *models.Session      `json:"session"`
	ActiveQuestion *models.Question     `json:"active_question"`
	Roster         []models.Participant `json:"roster"`
	// Answers are the answers to ActiveQuestion in arrival order.
	Answers []models.Answer `json:"answers"`
}

// TeacherSession is a teacher's projection plus the commands a teacher can issue.
type TeacherSession struct {
	svc       Services
	teacherID uuid.UUID
	logger    *zap.Logger
	follower  follower

	refreshMu sync.Mutex
	mu        sync.RWMutex
	snap      TeacherSnapshot
	onChange  func(TeacherSnapshot)
}

// NewTeacherSession creates an unattached teacher projection.
func NewTeacherSession(svc Services, teacherID uuid.UUID, logger *zap.Logger) *TeacherSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &TeacherSession{svc: svc, teacherID: teacherID, logger: logger}
	t.follower = follower{feed: svc.Feed, logger: logger, refresh: t.refresh}
	return t
}

// OnChange registers fn to be called with every refreshed snapshot.
func (t *TeacherSession) OnChange(fn func(TeacherSnapshot)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Snapshot returns the current view.
func (t *TeacherSession) Snapshot() TeacherSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Start creates a session and attaches to it.
func (t *TeacherSession) Start(ctx context.Context, p sessions.StartParams) (*models.Session, error) {
	sess, err := t.svc.Sessions.Start(ctx, t.teacherID, p)
	if err != nil {
		return nil, err
	}
	if err := t.Attach(ctx, sess.ID); err != nil {
		return nil, err
	}
	return sess, nil
}

// Attach follows an existing session the teacher runs.
func (t *TeacherSession) Attach(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := t.svc.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.TeacherID != t.teacherID {
		return apperr.ErrNotSessionTeacher
	}
	if err := t.follower.follow(sessionID); err != nil {
		return fmt.Errorf("subscribe session: %w", err)
	}
	return t.refresh(ctx)
}

// Run keeps the snapshot current until ctx ends or Close is called.
func (t *TeacherSession) Run(ctx context.Context) error {
	return t.follower.run(ctx)
}

// Close stops following the session.
func (t *TeacherSession) Close() {
	t.follower.stop()
}

func (t *TeacherSession) sessionID() (uuid.UUID, error) {
	id, ok := t.follower.session()
	if !ok {
		return uuid.Nil, ErrNotAttached
	}
	return id, nil
}

// UpdateSlide moves the session to slide index.
func (t *TeacherSession) UpdateSlide(ctx context.Context, index int) (*models.Session, error) {
	id, err := t.sessionID()
	if err != nil {
		return nil, err
	}
	sess, err := t.svc.Sessions.UpdateSlide(ctx, t.teacherID, id, index)
	if err != nil {
		return nil, err
	}
	t.settle(ctx)
	return sess, nil
}

// PushQuestion activates a new question, closing the current one.
func (t *TeacherSession) PushQuestion(ctx context.Context, p questions.PushParams) (*models.Question, error) {
	id, err := t.sessionID()
	if err != nil {
		return nil, err
	}
	q, err := t.svc.Questions.Push(ctx, t.teacherID, id, p)
	if err != nil {
		return nil, err
	}
	t.settle(ctx)
	return q, nil
}

// CloseQuestion closes the active question.
func (t *TeacherSession) CloseQuestion(ctx context.Context) (*models.Question, error) {
	id, err := t.sessionID()
	if err != nil {
		return nil, err
	}
	q, err := t.svc.Questions.Close(ctx, t.teacherID, id)
	if err != nil {
		return nil, err
	}
	t.settle(ctx)
	return q, nil
}

// End ends the session and returns its participation summary.
func (t *TeacherSession) End(ctx context.Context) (*sessions.EndSummary, error) {
	id, err := t.sessionID()
	if err != nil {
		return nil, err
	}
	summary, err := t.svc.Sessions.End(ctx, t.teacherID, id)
	if err != nil {
		return nil, err
	}
	t.settle(ctx)
	return summary, nil
}

// settle refreshes after a command so the caller reads its own write.
func (t *TeacherSession) settle(ctx context.Context) {
	if err := t.refresh(ctx); err != nil {
		t.logger.Warn("refresh after command failed", zap.Error(err))
	}
}

func (t *TeacherSession) refresh(ctx context.Context) error {
	id, err := t.sessionID()
	if err != nil {
		return err
	}
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	sess, err := t.svc.Sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	active, err := t.svc.Questions.Active(ctx, id)
	if err != nil {
		return err
	}
	roster, err := t.svc.Sessions.Roster(ctx, id)
	if err != nil {
		return err
	}
	if roster == nil {
		roster = []models.Participant{}
	}
	answers := []models.Answer{}
	if active != nil {
		if answers, err = t.svc.Questions.Answers(ctx, active.ID); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.snap = TeacherSnapshot{
		Version:        t.snap.Version + 1,
		Session:        sess,
		ActiveQuestion: active,
		Roster:         roster,
		Answers:        answers,
	}
	snap, fn := t.snap, t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
	return nil
}
