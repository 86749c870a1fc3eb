// Package questions coordinates live poll questions: at most one active question per
// session, manual and deadline-driven closing, and answer listing.
package questions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/retry"
	"github.com/aura-classroom/backend/internal/store"
)

// PushParams describes a question to activate.
type PushParams struct {
	SlideIndex       int
	Prompt           string
	Options          []string
	CorrectAnswer    *string
	Explanation      *string
	TimeLimitSeconds *int
}

// Coordinator pushes and closes questions.
type Coordinator struct {
	store     store.Store
	policy    retry.Policy
	deadlines *Scheduler
	logger    *zap.Logger
}

// NewCoordinator creates a question coordinator with its own deadline scheduler.
func NewCoordinator(st store.Store, policy retry.Policy, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{store: st, policy: policy, logger: logger}
	c.deadlines = NewScheduler(c.expire, logger)
	return c
}

// Deadlines returns the scheduler holding question deadlines.
func (c *Coordinator) Deadlines() *Scheduler {
	return c.deadlines
}

// Stop cancels all pending deadlines.
func (c *Coordinator) Stop() {
	c.deadlines.Stop()
}

func (p *PushParams) validate() error {
	p.Prompt = strings.TrimSpace(p.Prompt)
	if p.Prompt == "" {
		return apperr.Invalid("prompt is required")
	}
	if p.SlideIndex < 0 {
		return apperr.Invalid("slide index must not be negative")
	}
	seen := make(map[string]struct{}, len(p.Options))
	options := make([]string, len(p.Options))
	for i, o := range p.Options {
		o = strings.TrimSpace(o)
		if o == "" {
			return apperr.Invalid("options must not be empty")
		}
		if _, dup := seen[o]; dup {
			return apperr.Invalid(fmt.Sprintf("option %q is repeated", o))
		}
		seen[o] = struct{}{}
		options[i] = o
	}
	p.Options = options
	if p.CorrectAnswer != nil && len(p.Options) > 0 {
		if _, ok := seen[strings.TrimSpace(*p.CorrectAnswer)]; !ok {
			return apperr.Invalid("correct answer must be one of the options")
		}
		v := strings.TrimSpace(*p.CorrectAnswer)
		p.CorrectAnswer = &v
	}
	if p.TimeLimitSeconds != nil && *p.TimeLimitSeconds <= 0 {
		return apperr.Invalid("time limit must be positive")
	}
	return nil
}

// session loads the session and checks that teacherID runs it.
func (c *Coordinator) session(ctx context.Context, teacherID, sessionID uuid.UUID) (*models.Session, error) {
	sess, err := retry.Store(ctx, c.policy, c.logger, "GetSession", func(ctx context.Context) (*models.Session, error) {
		return c.store.GetSession(ctx, sessionID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.TeacherID != teacherID {
		return nil, apperr.ErrNotSessionTeacher
	}
	return sess, nil
}

// Push makes a new question the session's only active question, closing the previous one.
func (c *Coordinator) Push(ctx context.Context, teacherID, sessionID uuid.UUID, p PushParams) (*models.Question, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	sess, err := c.session(ctx, teacherID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Ended() {
		return nil, apperr.ErrSessionEnded
	}

	now := time.Now()
	q := &models.Question{
		ID:               uuid.New(),
		SessionID:        sessionID,
		SlideIndex:       p.SlideIndex,
		Prompt:           p.Prompt,
		Options:          p.Options,
		CorrectAnswer:    p.CorrectAnswer,
		Explanation:      p.Explanation,
		TimeLimitSeconds: p.TimeLimitSeconds,
		ActivatedAt:      &now,
	}
	res, err := retry.Store(ctx, c.policy, c.logger, "PushQuestion", func(ctx context.Context) (*store.PushResult, error) {
		return c.store.PushQuestion(ctx, q)
	})
	switch {
	case errors.Is(err, store.ErrSessionEnded):
		return nil, apperr.ErrSessionEnded
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.ErrSessionNotFound
	case errors.Is(err, store.ErrConflict):
		// A retried push may already have committed under this ID.
		existing, getErr := c.store.GetQuestion(ctx, q.ID)
		if getErr != nil {
			return nil, fmt.Errorf("push question: %w", err)
		}
		res = &store.PushResult{Question: existing}
	case err != nil:
		return nil, fmt.Errorf("push question: %w", err)
	}

	if res.Closed != nil {
		c.deadlines.Cancel(res.Closed.ID)
	}
	if deadline, ok := res.Question.Deadline(); ok && res.Question.IsActive {
		c.deadlines.Schedule(res.Question.ID, deadline)
	}
	c.logger.Info("question pushed", zap.String("session_id", sessionID.String()), zap.String("question_id", res.Question.ID.String()))
	return res.Question, nil
}

// Close closes the session's active question.
func (c *Coordinator) Close(ctx context.Context, teacherID, sessionID uuid.UUID) (*models.Question, error) {
	if _, err := c.session(ctx, teacherID, sessionID); err != nil {
		return nil, err
	}
	active, err := c.Active(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, apperr.ErrNoActiveQuestion
	}
	return c.close(ctx, active.ID)
}

// CloseQuestion closes a specific question. Closing a closed question returns it unchanged.
func (c *Coordinator) CloseQuestion(ctx context.Context, teacherID, questionID uuid.UUID) (*models.Question, error) {
	q, err := c.Get(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if _, err := c.session(ctx, teacherID, q.SessionID); err != nil {
		return nil, err
	}
	if !q.IsActive {
		return q, nil
	}
	return c.close(ctx, questionID)
}

// close keeps the deadline armed until the store write succeeds.
func (c *Coordinator) close(ctx context.Context, questionID uuid.UUID) (*models.Question, error) {
	q, err := retry.Store(ctx, c.policy, c.logger, "CloseQuestion", func(ctx context.Context) (*models.Question, error) {
		return c.store.CloseQuestion(ctx, questionID, time.Now())
	})
	if err != nil {
		return nil, mapQuestionErr(err)
	}
	c.deadlines.Cancel(questionID)
	c.logger.Info("question closed", zap.String("session_id", q.SessionID.String()), zap.String("question_id", questionID.String()))
	return q, nil
}

// expire closes a question whose deadline passed.
func (c *Coordinator) expire(ctx context.Context, questionID uuid.UUID) error {
	_, err := retry.Store(ctx, c.policy, c.logger, "CloseQuestion", func(ctx context.Context) (*models.Question, error) {
		return c.store.CloseQuestion(ctx, questionID, time.Now())
	})
	return err
}

// Get returns a question by ID.
func (c *Coordinator) Get(ctx context.Context, questionID uuid.UUID) (*models.Question, error) {
	q, err := retry.Store(ctx, c.policy, c.logger, "GetQuestion", func(ctx context.Context) (*models.Question, error) {
		return c.store.GetQuestion(ctx, questionID)
	})
	if err != nil {
		return nil, mapQuestionErr(err)
	}
	return q, nil
}

// Active returns the session's active question, or nil when none is active.
func (c *Coordinator) Active(ctx context.Context, sessionID uuid.UUID) (*models.Question, error) {
	q, err := retry.Store(ctx, c.policy, c.logger, "GetActiveQuestion", func(ctx context.Context) (*models.Question, error) {
		return c.store.GetActiveQuestion(ctx, sessionID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Answers returns a question's answers in arrival order.
func (c *Coordinator) Answers(ctx context.Context, questionID uuid.UUID) ([]models.Answer, error) {
	list, err := retry.Store(ctx, c.policy, c.logger, "ListAnswers", func(ctx context.Context) ([]models.Answer, error) {
		return c.store.ListAnswers(ctx, questionID)
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Answer{}
	}
	return list, nil
}

// List returns every question pushed in the session.
func (c *Coordinator) List(ctx context.Context, sessionID uuid.UUID) ([]models.Question, error) {
	list, err := retry.Store(ctx, c.policy, c.logger, "ListQuestions", func(ctx context.Context) ([]models.Question, error) {
		return c.store.ListQuestions(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Question{}
	}
	return list, nil
}

// RecoverDeadlines re-arms deadlines for active timed questions after a restart.
// Overdue questions close immediately.
func (c *Coordinator) RecoverDeadlines(ctx context.Context) (int, error) {
	list, err := retry.Store(ctx, c.policy, c.logger, "ListActiveTimedQuestions", func(ctx context.Context) ([]models.Question, error) {
		return c.store.ListActiveTimedQuestions(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("list timed questions: %w", err)
	}
	n := 0
	for i := range list {
		if deadline, ok := list[i].Deadline(); ok {
			c.deadlines.Schedule(list[i].ID, deadline)
			n++
		}
	}
	c.logger.Info("question deadlines recovered", zap.Int("count", n))
	return n, nil
}

func mapQuestionErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrNotFound.With("question not found")
	}
	return err
}
