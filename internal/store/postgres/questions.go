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

const questionColumns = `id, session_id, slide_index, prompt, options, correct_answer, explanation, is_active,
	time_limit_seconds, activated_at, closed_at`

func scanQuestion(row rowScanner) (*models.Question, error) {
	var q models.Question
	err := row.Scan(&q.ID, &q.SessionID, &q.SlideIndex, &q.Prompt, &q.Options, &q.CorrectAnswer, &q.Explanation, &q.IsActive,
		&q.TimeLimitSeconds, &q.ActivatedAt, &q.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func queryQuestions(ctx context.Context, db querier, sql string, args ...any) ([]models.Question, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var list []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *q)
	}
	return list, rows.Err()
}

// deactivateQuestion closes the session's active question, if any.
func deactivateQuestion(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, at time.Time) (*models.Question, error) {
	const q = `UPDATE live_questions SET is_active = FALSE, closed_at = $2
		WHERE session_id = $1 AND is_active
		RETURNING ` + questionColumns
	closed, err := scanQuestion(tx.QueryRow(ctx, q, sessionID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return closed, nil
}

// PushQuestion replaces the session's active question with q in one transaction.
func (s *Store) PushQuestion(ctx context.Context, q *models.Question) (*store.PushResult, error) {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	activatedAt := time.Now()
	if q.ActivatedAt != nil {
		activatedAt = *q.ActivatedAt
	}
	options := q.Options
	if options == nil {
		options = []string{}
	}

	var res store.PushResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		res = store.PushResult{}
		if _, err := lockSession(ctx, tx, q.SessionID); err != nil {
			return err
		}
		closed, err := deactivateQuestion(ctx, tx, q.SessionID, activatedAt)
		if err != nil {
			return err
		}
		res.Closed = closed

		const insertQ = `INSERT INTO live_questions (id, session_id, slide_index, prompt, options, correct_answer, explanation,
				is_active, time_limit_seconds, activated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9)
			RETURNING ` + questionColumns
		res.Question, err = scanQuestion(tx.QueryRow(ctx, insertQ, q.ID, q.SessionID, q.SlideIndex, q.Prompt, options,
			q.CorrectAnswer, q.Explanation, q.TimeLimitSeconds, activatedAt))
		return mapErr(err)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	if res.Closed != nil {
		s.emit(ctx, questionChange(store.OpUpdate, res.Closed))
	}
	s.emit(ctx, questionChange(store.OpInsert, res.Question))
	return &res, nil
}

// CloseQuestion deactivates the question if it is still active.
func (s *Store) CloseQuestion(ctx context.Context, id uuid.UUID, at time.Time) (*models.Question, error) {
	const q = `UPDATE live_questions SET is_active = FALSE, closed_at = $2
		WHERE id = $1 AND is_active
		RETURNING ` + questionColumns
	closed, err := scanQuestion(s.pool.QueryRow(ctx, q, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.GetQuestion(ctx, id)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	s.emit(ctx, questionChange(store.OpUpdate, closed))
	return closed, nil
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	const q = `SELECT ` + questionColumns + ` FROM live_questions WHERE id = $1`
	question, err := scanQuestion(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return question, nil
}

// GetActiveQuestion returns the session's active question.
func (s *Store) GetActiveQuestion(ctx context.Context, sessionID uuid.UUID) (*models.Question, error) {
	const q = `SELECT ` + questionColumns + ` FROM live_questions WHERE session_id = $1 AND is_active`
	question, err := scanQuestion(s.pool.QueryRow(ctx, q, sessionID))
	if err != nil {
		return nil, mapErr(err)
	}
	return question, nil
}

// ListQuestions returns every question pushed in a session, oldest first.
func (s *Store) ListQuestions(ctx context.Context, sessionID uuid.UUID) ([]models.Question, error) {
	return queryQuestions(ctx, s.pool, `SELECT `+questionColumns+`
		FROM live_questions WHERE session_id = $1 ORDER BY activated_at NULLS FIRST, id`, sessionID)
}

// ListActiveTimedQuestions returns active questions that carry a time limit.
func (s *Store) ListActiveTimedQuestions(ctx context.Context) ([]models.Question, error) {
	return queryQuestions(ctx, s.pool, `SELECT `+questionColumns+`
		FROM live_questions WHERE is_active AND time_limit_seconds IS NOT NULL ORDER BY activated_at`)
}
