// Package store defines the persistence substrate the live-session coordinator runs on.
// Implementations must apply every multi-row operation atomically and report each written
// row to a ChangeSink once the write is durable.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/models"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("store: unique constraint violated")
	// ErrSessionEnded is returned when a write targets an ended session.
	ErrSessionEnded = errors.New("store: session ended")
	// ErrQuestionNotActive is returned when an answer targets an inactive question.
	ErrQuestionNotActive = errors.New("store: question not active")
	// ErrParticipantLeft is returned when an answer comes from a participant that left.
	ErrParticipantLeft = errors.New("store: participant left")
)

// IsDomain reports whether err is one of the store's semantic errors (never worth retrying).
func IsDomain(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrSessionEnded) || errors.Is(err, ErrQuestionNotActive) ||
		errors.Is(err, ErrParticipantLeft)
}

// Table names used in change records.
const (
	TableSessions     = "live_sessions"
	TableParticipants = "live_participants"
	TableQuestions    = "live_questions"
	TableAnswers      = "live_answers"
)

// Op is the kind of row mutation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change describes one committed row mutation.
type Change struct {
	Table     string
	Op        Op
	SessionID uuid.UUID
	RowID     uuid.UUID
	// Row is a snapshot of the row after the write (*models.Session, *models.Question, ...).
	Row any
	At  time.Time
}

// ChangeSink receives committed changes.
type ChangeSink interface {
	Emit(ctx context.Context, c Change)
}

// ChangeSinkFunc adapts a function to ChangeSink.
type ChangeSinkFunc func(ctx context.Context, c Change)

// Emit calls f.
func (f ChangeSinkFunc) Emit(ctx context.Context, c Change) { f(ctx, c) }

// EndResult is what EndSession returns.
type EndResult struct {
	Session      *models.Session
	Participants []models.Participant
	// Closed is the question deactivated by the end, if one was active.
	Closed *models.Question
}

// PushResult is what PushQuestion returns.
type PushResult struct {
	Question *models.Question
	// Closed is the previously active question, if any.
	Closed *models.Question
}

// AnswerResult is what InsertAnswer returns.
type AnswerResult struct {
	Answer      *models.Answer
	Participant *models.Participant
}

// Store is the coordinator's persistence contract.
type Store interface {
	// CreateSession inserts s. ErrConflict when s.JoinCode belongs to another non-ended session.
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// GetActiveSessionByCode returns the active session holding code.
	GetActiveSessionByCode(ctx context.Context, code string) (*models.Session, error)
	// UpdateSlide sets the current slide. ErrSessionEnded once ended.
	UpdateSlide(ctx context.Context, id uuid.UUID, index int) (*models.Session, error)
	// EndSession ends the session, closes its active question and stamps credit on
	// participants that answered at least once, in one transaction.
	EndSession(ctx context.Context, id uuid.UUID, at time.Time) (*EndResult, error)

	// PushQuestion deactivates the session's active question and inserts q as the new
	// active question in one transaction. ErrSessionEnded once ended.
	PushQuestion(ctx context.Context, q *models.Question) (*PushResult, error)
	// CloseQuestion deactivates the question if it is active. Closing an inactive
	// question returns it unchanged.
	CloseQuestion(ctx context.Context, id uuid.UUID, at time.Time) (*models.Question, error)
	GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error)
	// GetActiveQuestion returns ErrNotFound when no question is active.
	GetActiveQuestion(ctx context.Context, sessionID uuid.UUID) (*models.Question, error)
	ListQuestions(ctx context.Context, sessionID uuid.UUID) ([]models.Question, error)
	// ListActiveTimedQuestions returns active questions with a time limit across all sessions.
	ListActiveTimedQuestions(ctx context.Context) ([]models.Question, error)

	IsEnrolled(ctx context.Context, classID, studentID uuid.UUID) (bool, error)
	// UpsertParticipant inserts p or, when (session, student) exists, refreshes
	// lastActiveAt, status=active and the partner when p carries one. ErrSessionEnded
	// unless the session is active.
	UpsertParticipant(ctx context.Context, p *models.Participant) (*models.Participant, error)
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	// SetParticipantStatus changes status. When onlyFrom is non-empty the update only
	// applies if the current status is onlyFrom.
	SetParticipantStatus(ctx context.Context, id uuid.UUID, status, onlyFrom models.ParticipantStatus, at time.Time) (*models.Participant, error)

	// InsertAnswer records a and bumps the participant's counters in one transaction.
	// ErrQuestionNotActive when the question is closed, ErrParticipantLeft when the
	// participant left, ErrConflict on a second answer.
	InsertAnswer(ctx context.Context, a *models.Answer) (*AnswerResult, error)
	// GetAnswer returns the participant's answer to a question, ErrNotFound when none.
	GetAnswer(ctx context.Context, questionID, participantID uuid.UUID) (*models.Answer, error)
	ListAnswers(ctx context.Context, questionID uuid.UUID) ([]models.Answer, error)
	ListSessionAnswers(ctx context.Context, sessionID uuid.UUID) ([]models.Answer, error)
}
