package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/store"
)

const answerColumns = `id, question_id, participant_id, selected_answer, is_correct, answered_at, time_taken_seconds`

func scanAnswer(row rowScanner) (*models.Answer, error) {
	var a models.Answer
	if err := row.Scan(&a.ID, &a.QuestionID, &a.ParticipantID, &a.SelectedAnswer, &a.IsCorrect, &a.AnsweredAt, &a.TimeTakenSeconds); err != nil {
		return nil, err
	}
	return &a, nil
}

func queryAnswers(ctx context.Context, db querier, sql string, args ...any) ([]models.Answer, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var list []models.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// InsertAnswer records the answer and bumps the participant's counters in one transaction.
// The question row is share-locked so a concurrent close waits for this answer to commit.
func (s *Store) InsertAnswer(ctx context.Context, a *models.Answer) (*store.AnswerResult, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	var (
		res       store.AnswerResult
		sessionID uuid.UUID
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		res = store.AnswerResult{}
		var active bool
		const lockQ = `SELECT session_id, is_active FROM live_questions WHERE id = $1 FOR SHARE`
		if err := tx.QueryRow(ctx, lockQ, a.QuestionID).Scan(&sessionID, &active); err != nil {
			return mapErr(err)
		}
		if !active {
			return store.ErrQuestionNotActive
		}
		var status string
		const participantQ = `SELECT status FROM live_participants WHERE id = $1 FOR UPDATE`
		if err := tx.QueryRow(ctx, participantQ, a.ParticipantID).Scan(&status); err != nil {
			return mapErr(err)
		}
		if models.ParticipantStatus(status) == models.ParticipantLeft {
			return store.ErrParticipantLeft
		}

		const insertQ = `INSERT INTO live_answers (id, question_id, participant_id, selected_answer, is_correct, answered_at, time_taken_seconds)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (question_id, participant_id) DO NOTHING
			RETURNING ` + answerColumns
		answer, err := scanAnswer(tx.QueryRow(ctx, insertQ, a.ID, a.QuestionID, a.ParticipantID, a.SelectedAnswer, a.IsCorrect, a.AnsweredAt, a.TimeTakenSeconds))
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrConflict
		}
		if err != nil {
			return mapErr(err)
		}
		res.Answer = answer

		correct := 0
		if answer.IsCorrect != nil && *answer.IsCorrect {
			correct = 1
		}
		const countQ = `UPDATE live_participants SET
				total_questions_answered = total_questions_answered + 1,
				correct_answers = correct_answers + $3,
				last_active_at = $4
			WHERE id = $1 AND session_id = $2
			RETURNING ` + participantColumns
		res.Participant, err = scanParticipant(tx.QueryRow(ctx, countQ, a.ParticipantID, sessionID, correct, answer.AnsweredAt))
		return mapErr(err)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	s.emit(ctx,
		change(store.TableAnswers, store.OpInsert, sessionID, res.Answer.ID, res.Answer),
		participantChange(store.OpUpdate, res.Participant),
	)
	return &res, nil
}

// GetAnswer returns the participant's answer to a question.
func (s *Store) GetAnswer(ctx context.Context, questionID, participantID uuid.UUID) (*models.Answer, error) {
	const q = `SELECT ` + answerColumns + ` FROM live_answers WHERE question_id = $1 AND participant_id = $2`
	a, err := scanAnswer(s.pool.QueryRow(ctx, q, questionID, participantID))
	if err != nil {
		return nil, mapErr(err)
	}
	return a, nil
}

// ListAnswers returns a question's answers in arrival order.
func (s *Store) ListAnswers(ctx context.Context, questionID uuid.UUID) ([]models.Answer, error) {
	return queryAnswers(ctx, s.pool, `SELECT `+answerColumns+`
		FROM live_answers WHERE question_id = $1 ORDER BY answered_at, id`, questionID)
}

// ListSessionAnswers returns every answer given in a session.
func (s *Store) ListSessionAnswers(ctx context.Context, sessionID uuid.UUID) ([]models.Answer, error) {
	return queryAnswers(ctx, s.pool, `SELECT a.id, a.question_id, a.participant_id, a.selected_answer, a.is_correct, a.answered_at, a.time_taken_seconds
		FROM live_answers a INNER JOIN live_questions q ON q.id = a.question_id
		WHERE q.session_id = $1 ORDER BY a.answered_at, a.id`, sessionID)
}
