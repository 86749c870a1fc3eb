package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	// SessionPaused exists in the stored value space only; no command transitions into it.
	SessionPaused SessionStatus = "paused"
	SessionEnded  SessionStatus = "ended"
)

// ParticipationMode controls whether students answer alone or with a partner.
type ParticipationMode string

const (
	ModeIndividual ParticipationMode = "individual"
	ModePairs      ParticipationMode = "pairs"
)

// Valid reports whether m is a known participation mode.
func (m ParticipationMode) Valid() bool {
	return m == ModeIndividual || m == ModePairs
}

// Session is one teacher-led live broadcast of a presentation to a class.
type Session struct {
	ID                           uuid.UUID         `json:"id"`
	PresentationID               uuid.UUID         `json:"presentation_id"`
	TeacherID                    uuid.UUID         `json:"teacher_id"`
	ClassID                      uuid.UUID         `json:"class_id"`
	Title                        string            `json:"title"`
	Topic                        string            `json:"topic"`
	CurrentSlideIndex            int               `json:"current_slide_index"`
	Status                       SessionStatus     `json:"status"`
	ParticipationMode            ParticipationMode `json:"participation_mode"`
	JoinCode                     string            `json:"join_code"`
	CreditForParticipation       int               `json:"credit_for_participation"`
	DeductionForNonParticipation int               `json:"deduction_for_non_participation"`
	CreatedAt                    time.Time         `json:"created_at"`
	EndedAt                      *time.Time        `json:"ended_at,omitempty"`
}

// Ended reports whether the session reached its terminal state.
func (s *Session) Ended() bool {
	return s.Status == SessionEnded
}
