package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/retry"
	"github.com/aura-classroom/backend/internal/store/memory"
)

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }
func strPtr(s string) *string     { return &s }

func TestBuild(t *testing.T) {
	sess := &models.Session{ID: uuid.New(), Title: "Cells", Status: models.SessionEnded}
	q1 := models.Question{ID: uuid.New(), SlideIndex: 3, Prompt: "Q1", Options: []string{"A", "B", "C"}, CorrectAnswer: strPtr("A")}
	q2 := models.Question{ID: uuid.New(), SlideIndex: 1, Prompt: "Open"}
	roster := []models.Participant{
		{ID: uuid.New(), TotalQuestionsAnswered: 2},
		{ID: uuid.New(), TotalQuestionsAnswered: 1},
		{ID: uuid.New()},
		{ID: uuid.New()},
	}
	answers := []models.Answer{
		{QuestionID: q1.ID, ParticipantID: roster[0].ID, SelectedAnswer: "A", IsCorrect: boolPtr(true), TimeTakenSeconds: floatPtr(4)},
		{QuestionID: q1.ID, ParticipantID: roster[1].ID, SelectedAnswer: "B", IsCorrect: boolPtr(false), TimeTakenSeconds: floatPtr(6)},
		{QuestionID: q2.ID, ParticipantID: roster[0].ID, SelectedAnswer: "because"},
	}

	r := Build(sess, []models.Question{q1, q2}, roster, answers)
	assert.Equal(t, 4, r.ParticipantCount)
	assert.Equal(t, 2, r.ParticipatingCount)
	assert.Equal(t, 2, r.NonParticipantCount)
	assert.Equal(t, 50.0, r.ParticipationPercent)
	assert.Equal(t, 3, r.AnswersCount)
	assert.Equal(t, 50.0, r.CorrectPercent)

	require.Len(t, r.Questions, 2)
	open, graded := r.Questions[0], r.Questions[1]
	assert.Equal(t, q2.ID, open.QuestionID, "ordered by slide")
	assert.Equal(t, 1, open.Ungraded)
	assert.Equal(t, 25.0, open.AnswerRatePercent)
	assert.Zero(t, open.AvgTimeTakenSeconds)

	assert.Equal(t, 1, graded.Correct)
	assert.Equal(t, 1, graded.Incorrect)
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 0}, graded.Distribution)
	assert.Equal(t, 5.0, graded.AvgTimeTakenSeconds)
}

func TestBuildEmptySession(t *testing.T) {
	r := Build(&models.Session{ID: uuid.New()}, nil, nil, nil)
	assert.Zero(t, r.ParticipationPercent)
	assert.Zero(t, r.CorrectPercent)
	assert.NotNil(t, r.Questions)
}

func TestReporterChecksTeacher(t *testing.T) {
	st := memory.New(nil)
	teacher := uuid.New()
	sess := &models.Session{ID: uuid.New(), TeacherID: teacher, Status: models.SessionActive, JoinCode: "ABCDEF", CreatedAt: time.Now()}
	require.NoError(t, st.CreateSession(context.Background(), sess))

	rep := NewReporter(st, retry.Policy{Attempts: 1, Initial: time.Millisecond, Max: time.Millisecond, Timeout: time.Second}, zaptest.NewLogger(t))
	rep.Connections = func(uuid.UUID) int { return 7 }

	r, err := rep.Report(context.Background(), teacher, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, r.LiveConnections)

	_, err = rep.Report(context.Background(), uuid.New(), sess.ID)
	assert.ErrorIs(t, err, apperr.ErrNotSessionTeacher)
	_, err = rep.Report(context.Background(), teacher, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
}
