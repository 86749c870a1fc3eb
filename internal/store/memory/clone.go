package memory

import (
	"time"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/store"
)

func cloneSession(s *models.Session) *models.Session {
	out := *s
	out.EndedAt = cloneTime(s.EndedAt)
	return &out
}

func cloneQuestion(q *models.Question) *models.Question {
	out := *q
	if q.Options != nil {
		out.Options = append([]string(nil), q.Options...)
	}
	out.CorrectAnswer = cloneString(q.CorrectAnswer)
	out.Explanation = cloneString(q.Explanation)
	if q.TimeLimitSeconds != nil {
		v := *q.TimeLimitSeconds
		out.TimeLimitSeconds = &v
	}
	out.ActivatedAt = cloneTime(q.ActivatedAt)
	out.ClosedAt = cloneTime(q.ClosedAt)
	return &out
}

func cloneParticipant(p *models.Participant) *models.Participant {
	out := *p
	if p.PartnerStudentID != nil {
		v := *p.PartnerStudentID
		out.PartnerStudentID = &v
	}
	return &out
}

func cloneAnswer(a *models.Answer) *models.Answer {
	out := *a
	if a.IsCorrect != nil {
		v := *a.IsCorrect
		out.IsCorrect = &v
	}
	if a.TimeTakenSeconds != nil {
		v := *a.TimeTakenSeconds
		out.TimeTakenSeconds = &v
	}
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func sessionChange(op store.Op, s *models.Session) store.Change {
	return store.Change{Table: store.TableSessions, Op: op, SessionID: s.ID, RowID: s.ID, Row: s, At: time.Now()}
}

func questionChange(op store.Op, q *models.Question) store.Change {
	return store.Change{Table: store.TableQuestions, Op: op, SessionID: q.SessionID, RowID: q.ID, Row: q, At: time.Now()}
}

func participantChange(op store.Op, p *models.Participant) store.Change {
	return store.Change{Table: store.TableParticipants, Op: op, SessionID: p.SessionID, RowID: p.ID, Row: p, At: time.Now()}
}
