package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantStatus tracks a student's presence in a session.
type ParticipantStatus string

const (
	ParticipantActive       ParticipantStatus = "active"
	ParticipantDisconnected ParticipantStatus = "disconnected"
	ParticipantLeft         ParticipantStatus = "left"
)

// Participant is a student's membership record within one session (unique per session+student).
type Participant struct {
	ID                     uuid.UUID         `json:"id"`
	SessionID              uuid.UUID         `json:"session_id"`
	StudentID              uuid.UUID         `json:"student_id"`
	PartnerStudentID       *uuid.UUID        `json:"partner_student_id,omitempty"`
	JoinedAt               time.Time         `json:"joined_at"`
	LastActiveAt           time.Time         `json:"last_active_at"`
	TotalQuestionsAnswered int               `json:"total_questions_answered"`
	CorrectAnswers         int               `json:"correct_answers"`
	CreditAwarded          int               `json:"credit_awarded"`
	Status                 ParticipantStatus `json:"status"`
}
