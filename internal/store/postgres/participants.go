package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/store"
)

const participantColumns = `id, session_id, student_id, partner_student_id, joined_at, last_active_at,
	total_questions_answered, correct_answers, credit_awarded, status`

func scanParticipant(row rowScanner, extra ...any) (*models.Participant, error) {
	var (
		p      models.Participant
		status string
	)
	dest := []any{&p.ID, &p.SessionID, &p.StudentID, &p.PartnerStudentID, &p.JoinedAt, &p.LastActiveAt,
		&p.TotalQuestionsAnswered, &p.CorrectAnswers, &p.CreditAwarded, &status}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.Status = models.ParticipantStatus(status)
	return &p, nil
}

func queryParticipants(ctx context.Context, db querier, sql string, args ...any) ([]models.Participant, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var list []models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// IsEnrolled reports whether the student belongs to the class.
func (s *Store) IsEnrolled(ctx context.Context, classID, studentID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM class_enrollments WHERE class_id = $1 AND student_id = $2)`
	var ok bool
	if err := s.pool.QueryRow(ctx, q, classID, studentID).Scan(&ok); err != nil {
		return false, mapErr(err)
	}
	return ok, nil
}

// UpsertParticipant inserts a participant or refreshes the existing (session, student) row.
// The session row is share-locked so the write cannot land after a concurrent end.
func (s *Store) UpsertParticipant(ctx context.Context, p *models.Participant) (*models.Participant, error) {
	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	const lockQ = `SELECT status FROM live_sessions WHERE id = $1 FOR SHARE`
	const q = `INSERT INTO live_participants (id, session_id, student_id, partner_student_id, joined_at, last_active_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'active')
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			last_active_at = EXCLUDED.last_active_at,
			status = 'active',
			partner_student_id = COALESCE(EXCLUDED.partner_student_id, live_participants.partner_student_id)
		RETURNING ` + participantColumns + `, (xmax = 0)`
	var (
		row      *models.Participant
		inserted bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var status string
		if err := tx.QueryRow(ctx, lockQ, p.SessionID).Scan(&status); err != nil {
			return mapErr(err)
		}
		if models.SessionStatus(status) != models.SessionActive {
			return store.ErrSessionEnded
		}
		var err error
		row, err = scanParticipant(tx.QueryRow(ctx, q, id, p.SessionID, p.StudentID, p.PartnerStudentID, p.JoinedAt, p.LastActiveAt), &inserted)
		return mapErr(err)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	op := store.OpUpdate
	if inserted {
		op = store.OpInsert
	}
	s.emit(ctx, participantChange(op, row))
	return row, nil
}

// GetParticipant returns a participant by ID.
func (s *Store) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	const q = `SELECT ` + participantColumns + ` FROM live_participants WHERE id = $1`
	p, err := scanParticipant(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

// ListParticipants returns a session's roster in join order.
func (s *Store) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	return queryParticipants(ctx, s.pool, `SELECT `+participantColumns+`
		FROM live_participants WHERE session_id = $1 ORDER BY joined_at, id`, sessionID)
}

// SetParticipantStatus moves a participant to status, optionally only from onlyFrom.
func (s *Store) SetParticipantStatus(ctx context.Context, id uuid.UUID, status, onlyFrom models.ParticipantStatus, at time.Time) (*models.Participant, error) {
	const q = `UPDATE live_participants SET status = $2, last_active_at = $3
		WHERE id = $1 AND status <> $2 AND ($4 = '' OR status = $4)
		RETURNING ` + participantColumns
	p, err := scanParticipant(s.pool.QueryRow(ctx, q, id, string(status), at, string(onlyFrom)))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.GetParticipant(ctx, id)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	s.emit(ctx, participantChange(store.OpUpdate, p))
	return p, nil
}
