package changefeed

import (
	"time"

	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/store"
)

// Kind names what changed in a session.
type Kind string

const (
	KindSessionUpdated    Kind = "session_updated"
	KindRosterChanged     Kind = "roster_changed"
	KindQuestionActivated Kind = "question_activated"
	KindQuestionClosed    Kind = "question_closed"
	KindAnswerReceived    Kind = "answer_received"
)

// Notification tells subscribers that a session changed. It carries no state: receivers
// re-read what they need, so a dropped or coalesced notification loses nothing.
type Notification struct {
	Kind      Kind      `json:"kind"`
	SessionID uuid.UUID `json:"session_id"`
	RowID     uuid.UUID `json:"row_id"`
	At        time.Time `json:"at"`
}

// Map translates a committed store change into the notifications it implies.
func Map(c store.Change) []Notification {
	n := func(k Kind) Notification {
		return Notification{Kind: k, SessionID: c.SessionID, RowID: c.RowID, At: c.At}
	}
	switch c.Table {
	case store.TableSessions:
		return []Notification{n(KindSessionUpdated)}
	case store.TableParticipants:
		return []Notification{n(KindRosterChanged)}
	case store.TableQuestions:
		if c.Op == store.OpDelete {
			return []Notification{n(KindQuestionClosed)}
		}
		if q, ok := c.Row.(*models.Question); ok && !q.IsActive {
			return []Notification{n(KindQuestionClosed)}
		}
		return []Notification{n(KindQuestionActivated)}
	case store.TableAnswers:
		if c.Op != store.OpInsert {
			return nil
		}
		// Counters on the participant row moved with the answer.
		return []Notification{n(KindAnswerReceived), n(KindRosterChanged)}
	}
	return nil
}
