// Package participants tracks students inside a live session: joining by code, answering
// the active question, leaving and dropping off.
package participants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/joincode"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/retry"
	"github.com/aura-classroom/backend/internal/store"
)

// StudentIdentity is who is joining and, in pairs mode, with whom.
type StudentIdentity struct {
	StudentID        uuid.UUID
	PartnerStudentID *uuid.UUID
}

// Tracker handles student commands.
type Tracker struct {
	store  store.Store
	policy retry.Policy
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker creates a participant tracker.
func NewTracker(st store.Store, policy retry.Policy, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: st, policy: policy, logger: logger, now: time.Now}
}

// Join enters the active session holding code. Joining again refreshes the existing
// participant instead of creating another one.
func (t *Tracker) Join(ctx context.Context, code string, who StudentIdentity) (*models.Participant, error) {
	code = joincode.Normalize(code)
	if !joincode.Valid(code) {
		return nil, apperr.ErrSessionNotFound
	}
	if who.StudentID == uuid.Nil {
		return nil, apperr.Invalid("student id is required")
	}
	sess, err := retry.Store(ctx, t.policy, t.logger, "GetActiveSessionByCode", func(ctx context.Context) (*models.Session, error) {
		return t.store.GetActiveSessionByCode(ctx, code)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	ok, err := t.enrolled(ctx, sess.ClassID, who.StudentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrNotEnrolled
	}
	if who.PartnerStudentID != nil {
		if sess.ParticipationMode != models.ModePairs {
			return nil, apperr.Invalid("partners are only accepted in pairs mode")
		}
		if *who.PartnerStudentID == who.StudentID {
			return nil, apperr.Invalid("partner must be another student")
		}
		ok, err := t.enrolled(ctx, sess.ClassID, *who.PartnerStudentID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.ErrNotEnrolled.With("partner is not enrolled in the session's class")
		}
	}

	now := t.now()
	row := &models.Participant{
		ID:               uuid.New(),
		SessionID:        sess.ID,
		StudentID:        who.StudentID,
		PartnerStudentID: who.PartnerStudentID,
		JoinedAt:         now,
		LastActiveAt:     now,
		Status:           models.ParticipantActive,
	}
	p, err := retry.Store(ctx, t.policy, t.logger, "UpsertParticipant", func(ctx context.Context) (*models.Participant, error) {
		return t.store.UpsertParticipant(ctx, row)
	})
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrSessionEnded) {
		return nil, apperr.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("join session: %w", err)
	}
	t.logger.Info("participant joined",
		zap.String("session_id", sess.ID.String()),
		zap.String("participant_id", p.ID.String()),
		zap.String("student_id", who.StudentID.String()),
	)
	return p, nil
}

func (t *Tracker) enrolled(ctx context.Context, classID, studentID uuid.UUID) (bool, error) {
	return retry.Store(ctx, t.policy, t.logger, "IsEnrolled", func(ctx context.Context) (bool, error) {
		return t.store.IsEnrolled(ctx, classID, studentID)
	})
}

// Get returns the caller's participant.
func (t *Tracker) Get(ctx context.Context, studentID, participantID uuid.UUID) (*models.Participant, error) {
	p, err := retry.Store(ctx, t.policy, t.logger, "GetParticipant", func(ctx context.Context) (*models.Participant, error) {
		return t.store.GetParticipant(ctx, participantID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotFound.With("participant not found")
	}
	if err != nil {
		return nil, err
	}
	if p.StudentID != studentID {
		return nil, apperr.ErrNotOwner
	}
	return p, nil
}

// SubmitAnswer records the participant's one answer to an open question and bumps its
// counters in the same store transaction.
func (t *Tracker) SubmitAnswer(ctx context.Context, studentID, participantID, questionID uuid.UUID, selected string) (*models.Answer, error) {
	selected = strings.TrimSpace(selected)
	if selected == "" {
		return nil, apperr.Invalid("answer is required")
	}
	p, err := t.Get(ctx, studentID, participantID)
	if err != nil {
		return nil, err
	}
	if p.Status == models.ParticipantLeft {
		return nil, apperr.ErrParticipantLeft
	}
	q, err := retry.Store(ctx, t.policy, t.logger, "GetQuestion", func(ctx context.Context) (*models.Question, error) {
		return t.store.GetQuestion(ctx, questionID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotFound.With("question not found")
	}
	if err != nil {
		return nil, err
	}
	if q.SessionID != p.SessionID {
		return nil, apperr.ErrQuestionNotActive.With("question belongs to another session")
	}
	if !q.IsActive {
		return nil, apperr.ErrQuestionNotActive
	}

	now := t.now()
	if deadline, ok := q.Deadline(); ok && now.After(deadline) {
		return nil, apperr.ErrQuestionClosed
	}
	if !q.HasOption(selected) {
		return nil, apperr.Invalid("answer must be one of the options")
	}

	a := &models.Answer{
		ID:             uuid.New(),
		QuestionID:     q.ID,
		ParticipantID:  p.ID,
		SelectedAnswer: selected,
		IsCorrect:      q.Grade(selected),
		AnsweredAt:     now,
	}
	if q.ActivatedAt != nil {
		taken := now.Sub(*q.ActivatedAt).Seconds()
		a.TimeTakenSeconds = &taken
	}
	res, err := retry.Store(ctx, t.policy, t.logger, "InsertAnswer", func(ctx context.Context) (*store.AnswerResult, error) {
		return t.store.InsertAnswer(ctx, a)
	})
	switch {
	case errors.Is(err, store.ErrQuestionNotActive):
		return nil, apperr.ErrQuestionClosed
	case errors.Is(err, store.ErrParticipantLeft):
		return nil, apperr.ErrParticipantLeft
	case errors.Is(err, store.ErrConflict):
		return t.recoverAnswer(ctx, a)
	case err != nil:
		return nil, fmt.Errorf("submit answer: %w", err)
	}
	t.logger.Info("answer received",
		zap.String("session_id", q.SessionID.String()),
		zap.String("question_id", q.ID.String()),
		zap.String("participant_id", p.ID.String()),
	)
	return res.Answer, nil
}

// recoverAnswer tells a retried insert that already committed apart from a real second answer.
func (t *Tracker) recoverAnswer(ctx context.Context, a *models.Answer) (*models.Answer, error) {
	got, err := t.store.GetAnswer(ctx, a.QuestionID, a.ParticipantID)
	if err != nil || got.ID != a.ID {
		return nil, apperr.ErrAlreadyAnswered
	}
	return got, nil
}

// HasAnswered reports whether the participant already answered the question.
func (t *Tracker) HasAnswered(ctx context.Context, participantID, questionID uuid.UUID) (bool, error) {
	_, err := retry.Store(ctx, t.policy, t.logger, "GetAnswer", func(ctx context.Context) (*models.Answer, error) {
		return t.store.GetAnswer(ctx, questionID, participantID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Leave marks the participant as gone. Leaving twice is a no-op.
func (t *Tracker) Leave(ctx context.Context, studentID, participantID uuid.UUID) (*models.Participant, error) {
	if _, err := t.Get(ctx, studentID, participantID); err != nil {
		return nil, err
	}
	p, err := t.setStatus(ctx, participantID, models.ParticipantLeft, "")
	if err != nil {
		return nil, err
	}
	t.logger.Info("participant left", zap.String("session_id", p.SessionID.String()), zap.String("participant_id", p.ID.String()))
	return p, nil
}

// MarkDisconnected flags an active participant whose connection dropped. A participant that
// left stays left; joining again restores active.
func (t *Tracker) MarkDisconnected(ctx context.Context, participantID uuid.UUID) (*models.Participant, error) {
	return t.setStatus(ctx, participantID, models.ParticipantDisconnected, models.ParticipantActive)
}

func (t *Tracker) setStatus(ctx context.Context, participantID uuid.UUID, status, onlyFrom models.ParticipantStatus) (*models.Participant, error) {
	p, err := retry.Store(ctx, t.policy, t.logger, "SetParticipantStatus", func(ctx context.Context) (*models.Participant, error) {
		return t.store.SetParticipantStatus(ctx, participantID, status, onlyFrom, t.now())
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotFound.With("participant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("set participant status: %w", err)
	}
	return p, nil
}
