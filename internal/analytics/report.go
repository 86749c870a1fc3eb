// Package analytics computes participation reports for live sessions from the stored
// questions, answers and roster.
package analytics

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/retry"
	"github.com/aura-classroom/backend/internal/store"
)

// QuestionStats summarizes the answers to one question.
type QuestionStats struct {
	QuestionID   uuid.UUID      `json:"question_id"`
	SlideIndex   int            `json:"slide_index"`
	Prompt       string         `json:"prompt"`
	Answers      int            `json:"answers"`
	Correct      int            `json:"correct"`
	Incorrect    int            `json:"incorrect"`
	Ungraded     int            `json:"ungraded"`
	Distribution map[string]int `json:"distribution"`
	// AnswerRatePercent is answers over roster size.
	AnswerRatePercent   float64 `json:"answer_rate_percent"`
	AvgTimeTakenSeconds float64 `json:"avg_time_taken_seconds"`
}

// Report is the JSON shape for GET /sessions/:id/report.
type Report struct {
	SessionID            uuid.UUID            `json:"session_id"`
	Title                string               `json:"title"`
	Status               models.SessionStatus `json:"status"`
	ParticipantCount     int                  `json:"participant_count"`
	ParticipatingCount   int                  `json:"participating_count"`
	NonParticipantCount  int                  `json:"non_participant_count"`
	ParticipationPercent float64              `json:"participation_percent"`
	QuestionsCount       int                  `json:"questions_count"`
	AnswersCount         int                  `json:"answers_count"`
	CorrectPercent       float64              `json:"correct_percent"`
	LiveConnections      int                  `json:"live_connections"`
	Questions            []QuestionStats      `json:"questions"`
}

// Build computes a report. Answers may belong to any of the session's questions.
func Build(sess *models.Session, questions []models.Question, roster []models.Participant, answers []models.Answer) *Report {
	r := &Report{
		SessionID:        sess.ID,
		Title:            sess.Title,
		Status:           sess.Status,
		ParticipantCount: len(roster),
		QuestionsCount:   len(questions),
		AnswersCount:     len(answers),
		Questions:        make([]QuestionStats, 0, len(questions)),
	}
	for _, p := range roster {
		if p.TotalQuestionsAnswered > 0 {
			r.ParticipatingCount++
		}
	}
	r.NonParticipantCount = r.ParticipantCount - r.ParticipatingCount
	r.ParticipationPercent = percent(r.ParticipatingCount, r.ParticipantCount)

	byQuestion := make(map[uuid.UUID][]models.Answer, len(questions))
	for _, a := range answers {
		byQuestion[a.QuestionID] = append(byQuestion[a.QuestionID], a)
	}
	graded, correct := 0, 0
	for _, q := range questions {
		qs := QuestionStats{
			QuestionID:   q.ID,
			SlideIndex:   q.SlideIndex,
			Prompt:       q.Prompt,
			Distribution: make(map[string]int, len(q.Options)),
		}
		for _, o := range q.Options {
			qs.Distribution[o] = 0
		}
		var taken float64
		timed := 0
		for _, a := range byQuestion[q.ID] {
			qs.Answers++
			qs.Distribution[a.SelectedAnswer]++
			switch {
			case a.IsCorrect == nil:
				qs.Ungraded++
			case *a.IsCorrect:
				qs.Correct++
			default:
				qs.Incorrect++
			}
			if a.TimeTakenSeconds != nil {
				taken += *a.TimeTakenSeconds
				timed++
			}
		}
		if timed > 0 {
			qs.AvgTimeTakenSeconds = round2(taken / float64(timed))
		}
		qs.AnswerRatePercent = percent(qs.Answers, r.ParticipantCount)
		graded += qs.Correct + qs.Incorrect
		correct += qs.Correct
		r.Questions = append(r.Questions, qs)
	}
	sort.SliceStable(r.Questions, func(i, j int) bool { return r.Questions[i].SlideIndex < r.Questions[j].SlideIndex })
	r.CorrectPercent = percent(correct, graded)
	return r
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(n) * 100 / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Reporter loads what a report needs from the store.
type Reporter struct {
	store   store.Store
	policy  retry.Policy
	logger  *zap.Logger
	exports Exports
	// Connections reports live connections to a session; optional.
	Connections func(sessionID uuid.UUID) int
}

// NewReporter creates a reporter.
func NewReporter(st store.Store, policy retry.Policy, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{store: st, policy: policy, logger: logger}
}

func (r *Reporter) owned(ctx context.Context, teacherID, sessionID uuid.UUID) (*models.Session, error) {
	sess, err := retry.Store(ctx, r.policy, r.logger, "GetSession", func(ctx context.Context) (*models.Session, error) {
		return r.store.GetSession(ctx, sessionID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.TeacherID != teacherID {
		return nil, apperr.ErrNotSessionTeacher
	}
	return sess, nil
}

// Report builds the report of a session the teacher runs.
func (r *Reporter) Report(ctx context.Context, teacherID, sessionID uuid.UUID) (*Report, error) {
	sess, err := r.owned(ctx, teacherID, sessionID)
	if err != nil {
		return nil, err
	}
	questions, err := retry.Store(ctx, r.policy, r.logger, "ListQuestions", func(ctx context.Context) ([]models.Question, error) {
		return r.store.ListQuestions(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	roster, err := retry.Store(ctx, r.policy, r.logger, "ListParticipants", func(ctx context.Context) ([]models.Participant, error) {
		return r.store.ListParticipants(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	answers, err := retry.Store(ctx, r.policy, r.logger, "ListSessionAnswers", func(ctx context.Context) ([]models.Answer, error) {
		return r.store.ListSessionAnswers(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	report := Build(sess, questions, roster, answers)
	if r.Connections != nil {
		report.LiveConnections = r.Connections(sessionID)
	}
	return report, nil
}
