package models

import (
	"time"

	"github.com/google/uuid"
)

// Question is a live poll question pushed to a session. At most one per session is active.
type Question struct {
	ID               uuid.UUID  `json:"id"`
	SessionID        uuid.UUID  `json:"session_id"`
	SlideIndex       int        `json:"slide_index"`
	Prompt           string     `json:"prompt"`
	Options          []string   `json:"options"`
	CorrectAnswer    *string    `json:"correct_answer,omitempty"` // nil for open, ungraded questions
	Explanation      *string    `json:"explanation,omitempty"`
	IsActive         bool       `json:"is_active"`
	TimeLimitSeconds *int       `json:"time_limit_seconds,omitempty"`
	ActivatedAt      *time.Time `json:"activated_at,omitempty"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
}

// Deadline returns activatedAt + time limit, or false when the question is untimed.
func (q *Question) Deadline() (time.Time, bool) {
	if q.TimeLimitSeconds == nil || q.ActivatedAt == nil {
		return time.Time{}, false
	}
	return q.ActivatedAt.Add(time.Duration(*q.TimeLimitSeconds) * time.Second), true
}

// HasOption reports whether value is one of the question's options.
// Questions without options accept any value.
func (q *Question) HasOption(value string) bool {
	if len(q.Options) == 0 {
		return true
	}
	for _, o := range q.Options {
		if o == value {
			return true
		}
	}
	return false
}

// Grade returns nil when the question is ungraded, otherwise whether value is correct.
func (q *Question) Grade(value string) *bool {
	if q.CorrectAnswer == nil {
		return nil
	}
	ok := value == *q.CorrectAnswer
	return &ok
}

// PublicView hides the correct answer and explanation while the question is still active.
func (q *Question) PublicView() Question {
	v := *q
	if v.IsActive {
		v.CorrectAnswer = nil
		v.Explanation = nil
	}
	return v
}
