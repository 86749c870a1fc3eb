package models

import (
	"time"

	"github.com/google/uuid"
)

// Answer is a participant's single, immutable response to a question.
type Answer struct {
	ID               uuid.UUID `json:"id"`
	QuestionID       uuid.UUID `json:"question_id"`
	ParticipantID    uuid.UUID `json:"participant_id"`
	SelectedAnswer   string    `json:"selected_answer"`
	IsCorrect        *bool     `json:"is_correct,omitempty"`
	AnsweredAt       time.Time `json:"answered_at"`
	TimeTakenSeconds *float64  `json:"time_taken_seconds,omitempty"`
}
