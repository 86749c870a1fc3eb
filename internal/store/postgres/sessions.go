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

const sessionColumns = `id, presentation_id, teacher_id, class_id, title, topic, current_slide_index, status,
	participation_mode, join_code, credit_for_participation, deduction_for_non_participation, created_at, ended_at`

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s      models.Session
		status string
		mode   string
	)
	err := row.Scan(&s.ID, &s.PresentationID, &s.TeacherID, &s.ClassID, &s.Title, &s.Topic, &s.CurrentSlideIndex, &status,
		&mode, &s.JoinCode, &s.CreditForParticipation, &s.DeductionForNonParticipation, &s.CreatedAt, &s.EndedAt)
	if err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	s.ParticipationMode = models.ParticipationMode(mode)
	return &s, nil
}

// CreateSession inserts a new session. The partial unique index on join_code rejects a code
// already held by a session that has not ended.
func (s *Store) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	const q = `INSERT INTO live_sessions (id, presentation_id, teacher_id, class_id, title, topic, current_slide_index, status,
			participation_mode, join_code, credit_for_participation, deduction_for_non_participation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + sessionColumns
	row, err := scanSession(s.pool.QueryRow(ctx, q, sess.ID, sess.PresentationID, sess.TeacherID, sess.ClassID, sess.Title, sess.Topic,
		sess.CurrentSlideIndex, string(sess.Status), string(sess.ParticipationMode), sess.JoinCode,
		sess.CreditForParticipation, sess.DeductionForNonParticipation, sess.CreatedAt))
	if err != nil {
		return mapErr(err)
	}
	*sess = *row
	s.emit(ctx, sessionChange(store.OpInsert, row))
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = $1`
	sess, err := scanSession(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return sess, nil
}

// GetActiveSessionByCode returns the active session holding the join code.
func (s *Store) GetActiveSessionByCode(ctx context.Context, code string) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions WHERE join_code = $1 AND status = 'active'`
	sess, err := scanSession(s.pool.QueryRow(ctx, q, code))
	if err != nil {
		return nil, mapErr(err)
	}
	return sess, nil
}

// UpdateSlide sets current_slide_index unless the session has ended.
func (s *Store) UpdateSlide(ctx context.Context, id uuid.UUID, index int) (*models.Session, error) {
	const q = `UPDATE live_sessions SET current_slide_index = $2
		WHERE id = $1 AND status <> 'ended'
		RETURNING ` + sessionColumns
	sess, err := scanSession(s.pool.QueryRow(ctx, q, id, index))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetSession(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, store.ErrSessionEnded
	}
	if err != nil {
		return nil, mapErr(err)
	}
	s.emit(ctx, sessionChange(store.OpUpdate, sess))
	return sess, nil
}

// lockSession takes a row lock on the session so question and end operations on the same
// session are serialized.
func lockSession(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = $1 FOR UPDATE`
	sess, err := scanSession(tx.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapErr(err)
	}
	if sess.Status == models.SessionEnded {
		return nil, store.ErrSessionEnded
	}
	return sess, nil
}

// EndSession ends the session, closes its active question and awards credit to
// participants that answered at least once.
func (s *Store) EndSession(ctx context.Context, id uuid.UUID, at time.Time) (*store.EndResult, error) {
	var (
		res     store.EndResult
		changes []store.Change
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		res, changes = store.EndResult{}, nil
		if _, err := lockSession(ctx, tx, id); err != nil {
			return err
		}
		const endQ = `UPDATE live_sessions SET status = 'ended', ended_at = $2 WHERE id = $1 RETURNING ` + sessionColumns
		sess, err := scanSession(tx.QueryRow(ctx, endQ, id, at))
		if err != nil {
			return mapErr(err)
		}
		res.Session = sess
		changes = append(changes, sessionChange(store.OpUpdate, sess))

		closed, err := deactivateQuestion(ctx, tx, id, at)
		if err != nil {
			return err
		}
		if closed != nil {
			res.Closed = closed
			changes = append(changes, questionChange(store.OpUpdate, closed))
		}

		const creditQ = `UPDATE live_participants SET credit_awarded = $2
			WHERE session_id = $1 AND total_questions_answered > 0 AND credit_awarded <> $2
			RETURNING ` + participantColumns
		credited, err := queryParticipants(ctx, tx, creditQ, id, sess.CreditForParticipation)
		if err != nil {
			return err
		}
		for i := range credited {
			changes = append(changes, participantChange(store.OpUpdate, &credited[i]))
		}

		res.Participants, err = queryParticipants(ctx, tx, `SELECT `+participantColumns+`
			FROM live_participants WHERE session_id = $1 ORDER BY joined_at, id`, id)
		return err
	})
	if err != nil {
		return nil, mapErr(err)
	}
	s.emit(ctx, changes...)
	return &res, nil
}
