// Package sessions owns the live session lifecycle: start with a unique join code, move the
// slide, and end with participation accounting.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/joincode"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/retry"
	"github.com/aura-classroom/backend/internal/store"
	"github.com/aura-classroom/backend/pkg/queue"
)

// DefaultJoinCodeAttempts bounds join-code regeneration on collisions.
const DefaultJoinCodeAttempts = 8

// StartParams describes a new session.
type StartParams struct {
	PresentationID    uuid.UUID
	ClassID           uuid.UUID
	Title             string
	Topic             string
	ParticipationMode models.ParticipationMode
	CreditAmount      int
	DeductionAmount   int
}

// EndSummary is the participation outcome of an ended session.
type EndSummary struct {
	Session         *models.Session      `json:"session"`
	Participants    []models.Participant `json:"participants"`
	NonParticipants []models.Participant `json:"non_participants"`
	CreditAmount    int                  `json:"credit_amount"`
	DeductionAmount int                  `json:"deduction_amount"`
}

// SettlementQueue receives the outcome of ended sessions for ledger export.
type SettlementQueue interface {
	EnqueueSettlement(ctx context.Context, payload queue.SettlementPayload) error
}

// DeadlineCanceller drops a pending question deadline.
type DeadlineCanceller interface {
	Cancel(questionID uuid.UUID)
}

// Config tunes the registry.
type Config struct {
	JoinCodeAttempts int
	Retry            retry.Policy
	// Codes generates join codes; defaults to joincode.Generate.
	Codes func() (string, error)
}

// Registry starts, updates and ends sessions.
type Registry struct {
	store     store.Store
	cfg       Config
	queue     SettlementQueue
	deadlines DeadlineCanceller
	logger    *zap.Logger
}

// NewRegistry creates a session registry.
func NewRegistry(st store.Store, cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JoinCodeAttempts <= 0 {
		cfg.JoinCodeAttempts = DefaultJoinCodeAttempts
	}
	if cfg.Codes == nil {
		cfg.Codes = joincode.Generate
	}
	return &Registry{store: st, cfg: cfg, logger: logger}
}

// SetSettlementQueue sets where ended sessions are sent for export.
func (r *Registry) SetSettlementQueue(q SettlementQueue) {
	r.queue = q
}

// SetDeadlines sets the scheduler whose timers are dropped when a session ends.
func (r *Registry) SetDeadlines(d DeadlineCanceller) {
	r.deadlines = d
}

// Start creates an active session with a fresh join code.
func (r *Registry) Start(ctx context.Context, teacherID uuid.UUID, p StartParams) (*models.Session, error) {
	switch {
	case teacherID == uuid.Nil:
		return nil, apperr.Invalid("teacher id is required")
	case p.PresentationID == uuid.Nil:
		return nil, apperr.Invalid("presentation id is required")
	case p.ClassID == uuid.Nil:
		return nil, apperr.Invalid("class id is required")
	case !p.ParticipationMode.Valid():
		return nil, apperr.Invalid(fmt.Sprintf("participation mode %q is not individual or pairs", p.ParticipationMode))
	case p.CreditAmount < 0 || p.DeductionAmount < 0:
		return nil, apperr.Invalid("credit and deduction amounts must not be negative")
	}

	sess := &models.Session{
		ID:                           uuid.New(),
		PresentationID:               p.PresentationID,
		TeacherID:                    teacherID,
		ClassID:                      p.ClassID,
		Title:                        p.Title,
		Topic:                        p.Topic,
		Status:                       models.SessionActive,
		ParticipationMode:            p.ParticipationMode,
		CreditForParticipation:       p.CreditAmount,
		DeductionForNonParticipation: p.DeductionAmount,
		CreatedAt:                    time.Now(),
	}
	for attempt := 1; attempt <= r.cfg.JoinCodeAttempts; attempt++ {
		code, err := r.cfg.Codes()
		if err != nil {
			return nil, fmt.Errorf("generate join code: %w", err)
		}
		sess.JoinCode = code
		_, err = retry.Store(ctx, r.cfg.Retry, r.logger, "CreateSession", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.store.CreateSession(ctx, sess)
		})
		if err == nil {
			r.logger.Info("session started", zap.String("session_id", sess.ID.String()),
				zap.String("join_code", sess.JoinCode), zap.String("teacher_id", teacherID.String()))
			return sess, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("create session: %w", err)
		}
		// A retried insert may already have committed under this ID.
		if existing, getErr := r.store.GetSession(ctx, sess.ID); getErr == nil && existing.JoinCode == code {
			return existing, nil
		}
		r.logger.Debug("join code collision", zap.String("join_code", code), zap.Int("attempt", attempt))
	}
	return nil, apperr.ErrJoinCodeExhausted
}

// Get returns a session by ID.
func (r *Registry) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	sess, err := retry.Store(ctx, r.cfg.Retry, r.logger, "GetSession", func(ctx context.Context) (*models.Session, error) {
		return r.store.GetSession(ctx, sessionID)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return sess, nil
}

// Roster returns the session's participants in join order.
func (r *Registry) Roster(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	list, err := retry.Store(ctx, r.cfg.Retry, r.logger, "ListParticipants", func(ctx context.Context) ([]models.Participant, error) {
		return r.store.ListParticipants(ctx, sessionID)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return list, nil
}

// owned loads the session and checks that teacherID runs it and it has not ended.
func (r *Registry) owned(ctx context.Context, teacherID, sessionID uuid.UUID) (*models.Session, error) {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TeacherID != teacherID {
		return nil, apperr.ErrNotSessionTeacher
	}
	if sess.Ended() {
		return nil, apperr.ErrSessionEnded
	}
	return sess, nil
}

// UpdateSlide moves the session to slide index.
func (r *Registry) UpdateSlide(ctx context.Context, teacherID, sessionID uuid.UUID, index int) (*models.Session, error) {
	if index < 0 {
		return nil, apperr.Invalid("slide index must not be negative")
	}
	if _, err := r.owned(ctx, teacherID, sessionID); err != nil {
		return nil, err
	}
	sess, err := retry.Store(ctx, r.cfg.Retry, r.logger, "UpdateSlide", func(ctx context.Context) (*models.Session, error) {
		return r.store.UpdateSlide(ctx, sessionID, index)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return sess, nil
}

// End ends the session, closes its active question and stamps credit on every participant
// that answered at least once. The summary is queued for settlement when a queue is set.
func (r *Registry) End(ctx context.Context, teacherID, sessionID uuid.UUID) (*EndSummary, error) {
	if _, err := r.owned(ctx, teacherID, sessionID); err != nil {
		return nil, err
	}
	res, err := retry.Store(ctx, r.cfg.Retry, r.logger, "EndSession", func(ctx context.Context) (*store.EndResult, error) {
		return r.store.EndSession(ctx, sessionID, time.Now())
	})
	if err != nil {
		return nil, mapErr(err)
	}
	if res.Closed != nil && r.deadlines != nil {
		r.deadlines.Cancel(res.Closed.ID)
	}

	summary := Summarize(res.Session, res.Participants)
	r.logger.Info("session ended", zap.String("session_id", sessionID.String()),
		zap.Int("participants", len(summary.Participants)), zap.Int("non_participants", len(summary.NonParticipants)))

	if r.queue != nil {
		if err := r.queue.EnqueueSettlement(ctx, SettlementPayload(summary)); err != nil {
			// The session is already ended; a lost export is recoverable from the store.
			r.logger.Error("enqueue settlement failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}
	return summary, nil
}

// Summarize splits a roster into participants (answered at least once) and non-participants.
func Summarize(sess *models.Session, roster []models.Participant) *EndSummary {
	s := &EndSummary{
		Session:         sess,
		Participants:    []models.Participant{},
		NonParticipants: []models.Participant{},
		CreditAmount:    sess.CreditForParticipation,
		DeductionAmount: sess.DeductionForNonParticipation,
	}
	for _, p := range roster {
		if p.TotalQuestionsAnswered > 0 {
			s.Participants = append(s.Participants, p)
		} else {
			s.NonParticipants = append(s.NonParticipants, p)
		}
	}
	return s
}

// SettlementPayload converts a summary into the settlement job payload.
func SettlementPayload(s *EndSummary) queue.SettlementPayload {
	p := queue.SettlementPayload{
		SessionID: s.Session.ID,
		ClassID:   s.Session.ClassID,
		TeacherID: s.Session.TeacherID,
		Title:     s.Session.Title,
		Rows:      make([]queue.SettlementRow, 0, len(s.Participants)+len(s.NonParticipants)),
	}
	if s.Session.EndedAt != nil {
		p.EndedAt = *s.Session.EndedAt
	}
	row := func(pt models.Participant) queue.SettlementRow {
		return queue.SettlementRow{
			ParticipantID:     pt.ID,
			StudentID:         pt.StudentID,
			PartnerStudentID:  pt.PartnerStudentID,
			QuestionsAnswered: pt.TotalQuestionsAnswered,
			CorrectAnswers:    pt.CorrectAnswers,
		}
	}
	for _, pt := range s.Participants {
		r := row(pt)
		r.Credit = pt.CreditAwarded
		p.Rows = append(p.Rows, r)
	}
	for _, pt := range s.NonParticipants {
		r := row(pt)
		r.Deduction = s.DeductionAmount
		p.Rows = append(p.Rows, r)
	}
	return p
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.ErrSessionNotFound
	case errors.Is(err, store.ErrSessionEnded):
		return apperr.ErrSessionEnded
	}
	return err
}
