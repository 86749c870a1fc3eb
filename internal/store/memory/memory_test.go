package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/store"
)

type recorder struct {
	mu      sync.Mutex
	changes []store.Change
}

func (r *recorder) Emit(_ context.Context, c store.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Table+":"+string(c.Op))
	}
	return out
}

func newSession(code string) *models.Session {
	return &models.Session{
		ID:                     uuid.New(),
		TeacherID:              uuid.New(),
		ClassID:                uuid.New(),
		Status:                 models.SessionActive,
		ParticipationMode:      models.ModeIndividual,
		JoinCode:               code,
		CreditForParticipation: 5,
		CreatedAt:              time.Now(),
	}
}

func TestCreateSessionJoinCodeUniqueAmongLiveSessions(t *testing.T) {
	ctx := context.Background()
	st := New(nil)

	first := newSession("KPL249")
	require.NoError(t, st.CreateSession(ctx, first))
	assert.ErrorIs(t, st.CreateSession(ctx, newSession("KPL249")), store.ErrConflict)

	_, err := st.EndSession(ctx, first.ID, time.Now())
	require.NoError(t, err)
	assert.NoError(t, st.CreateSession(ctx, newSession("KPL249")), "ended sessions release their code")
}

func TestPushQuestionKeepsSingleActive(t *testing.T) {
	ctx := context.Background()
	st := New(nil)
	sess := newSession("ABCDEF")
	require.NoError(t, st.CreateSession(ctx, sess))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.PushQuestion(ctx, &models.Question{SessionID: sess.ID, SlideIndex: i, Prompt: "q"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	list, err := st.ListQuestions(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, list, 50)
	active := 0
	for _, q := range list {
		if q.IsActive {
			active++
		} else {
			assert.NotNil(t, q.ClosedAt)
		}
	}
	assert.Equal(t, 1, active)
}

func TestPushQuestionOnEndedSession(t *testing.T) {
	ctx := context.Background()
	st := New(nil)
	sess := newSession("ABCDEF")
	require.NoError(t, st.CreateSession(ctx, sess))
	_, err := st.EndSession(ctx, sess.ID, time.Now())
	require.NoError(t, err)

	_, err = st.PushQuestion(ctx, &models.Question{SessionID: sess.ID})
	assert.ErrorIs(t, err, store.ErrSessionEnded)
	_, err = st.UpdateSlide(ctx, sess.ID, 3)
	assert.ErrorIs(t, err, store.ErrSessionEnded)
	_, err = st.EndSession(ctx, sess.ID, time.Now())
	assert.ErrorIs(t, err, store.ErrSessionEnded)
}

func TestUpsertParticipantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := New(nil)
	sess := newSession("ABCDEF")
	require.NoError(t, st.CreateSession(ctx, sess))
	student := uuid.New()

	first, err := st.UpsertParticipant(ctx, &models.Participant{SessionID: sess.ID, StudentID: student, JoinedAt: time.Now(), LastActiveAt: time.Now()})
	require.NoError(t, err)
	_, err = st.SetParticipantStatus(ctx, first.ID, models.ParticipantDisconnected, models.ParticipantActive, time.Now())
	require.NoError(t, err)

	later := time.Now().Add(time.Minute)
	second, err := st.UpsertParticipant(ctx, &models.Participant{SessionID: sess.ID, StudentID: student, JoinedAt: later, LastActiveAt: later})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.ParticipantActive, second.Status)
	assert.True(t, second.LastActiveAt.Equal(later))
	assert.True(t, second.JoinedAt.Equal(first.JoinedAt))

	list, err := st.ListParticipants(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInsertAnswerOncePerQuestion(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	st := New(rec)
	sess := newSession("ABCDEF")
	require.NoError(t, st.CreateSession(ctx, sess))
	p, err := st.UpsertParticipant(ctx, &models.Participant{SessionID: sess.ID, StudentID: uuid.New()})
	require.NoError(t, err)
	pushed, err := st.PushQuestion(ctx, &models.Question{SessionID: sess.ID, Options: []string{"A", "B"}})
	require.NoError(t, err)

	correct := true
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, conflicts int
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.InsertAnswer(ctx, &models.Answer{QuestionID: pushed.Question.ID, ParticipantID: p.ID, SelectedAnswer: "A", IsCorrect: &correct, AnsweredAt: time.Now()})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 19, conflicts)

	got, err := st.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalQuestionsAnswered)
	assert.Equal(t, 1, got.CorrectAnswers)

	_, err = st.CloseQuestion(ctx, pushed.Question.ID, time.Now())
	require.NoError(t, err)
	other, err := st.UpsertParticipant(ctx, &models.Participant{SessionID: sess.ID, StudentID: uuid.New()})
	require.NoError(t, err)
	_, err = st.InsertAnswer(ctx, &models.Answer{QuestionID: pushed.Question.ID, ParticipantID: other.ID, SelectedAnswer: "B"})
	assert.ErrorIs(t, err, store.ErrQuestionNotActive)

	assert.Contains(t, rec.tables(), store.TableAnswers+":insert")
}

func TestEndSessionStampsCreditAndClosesQuestion(t *testing.T) {
	ctx := context.Background()
	st := New(nil)
	sess := newSession("ABCDEF")
	require.NoError(t, st.CreateSession(ctx, sess))
	answered, err := st.UpsertParticipant(ctx, &models.Participant{SessionID: sess.ID, StudentID: uuid.New()})
	require.NoError(t, err)
	_, err = st.UpsertParticipant(ctx, &models.Participant{SessionID: sess.ID, StudentID: uuid.New()})
	require.NoError(t, err)
	pushed, err := st.PushQuestion(ctx, &models.Question{SessionID: sess.ID})
	require.NoError(t, err)
	_, err = st.InsertAnswer(ctx, &models.Answer{QuestionID: pushed.Question.ID, ParticipantID: answered.ID, SelectedAnswer: "x"})
	require.NoError(t, err)

	res, err := st.EndSession(ctx, sess.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, res.Session.Status)
	require.NotNil(t, res.Closed)
	assert.False(t, res.Closed.IsActive)
	require.Len(t, res.Participants, 2)
	for _, p := range res.Participants {
		if p.ID == answered.ID {
			assert.Equal(t, 5, p.CreditAwarded)
		} else {
			assert.Zero(t, p.CreditAwarded)
		}
	}
	_, err = st.GetActiveQuestion(ctx, sess.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFaultHook(t *testing.T) {
	st := New(nil)
	boom := errors.New("boom")
	st.SetFault(func(op string) error {
		if op == "GetSession" {
			return boom
		}
		return nil
	})
	_, err := st.GetSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, boom)
	_, err = st.GetQuestion(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpsertParticipantOnEndedSession(t *testing.T) {
	ctx := context.Background()
	st := New(nil)
	sess := newSession("ABCDEF")
	require.NoError(t, st.CreateSession(ctx, sess))
	_, err := st.EndSession(ctx, sess.ID, time.Now())
	require.NoError(t, err)

	_, err = st.UpsertParticipant(ctx, &models.Participant{SessionID: sess.ID, StudentID: uuid.New()})
	assert.ErrorIs(t, err, store.ErrSessionEnded)
	_, err = st.UpsertParticipant(ctx, &models.Participant{SessionID: uuid.New(), StudentID: uuid.New()})
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := st.ListParticipants(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestInsertAnswerFromLeftParticipant(t *testing.T) {
	ctx := context.Background()
	st := New(nil)
	sess := newSession("ABCDEF")
	require.NoError(t, st.CreateSession(ctx, sess))
	p, err := st.UpsertParticipant(ctx, &models.Participant{SessionID: sess.ID, StudentID: uuid.New()})
	require.NoError(t, err)
	pushed, err := st.PushQuestion(ctx, &models.Question{SessionID: sess.ID, Options: []string{"A", "B"}})
	require.NoError(t, err)
	_, err = st.SetParticipantStatus(ctx, p.ID, models.ParticipantLeft, "", time.Now())
	require.NoError(t, err)

	_, err = st.InsertAnswer(ctx, &models.Answer{QuestionID: pushed.Question.ID, ParticipantID: p.ID, SelectedAnswer: "A"})
	assert.ErrorIs(t, err, store.ErrParticipantLeft)
	assert.True(t, store.IsDomain(err))

	got, err := st.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TotalQuestionsAnswered)
}

func TestGetAnswer(t *testing.T) {
	ctx := context.Background()
	st := New(nil)
	sess := newSession("ABCDEF")
	require.NoError(t, st.CreateSession(ctx, sess))
	p, err := st.UpsertParticipant(ctx, &models.Participant{SessionID: sess.ID, StudentID: uuid.New()})
	require.NoError(t, err)
	pushed, err := st.PushQuestion(ctx, &models.Question{SessionID: sess.ID, Options: []string{"A", "B"}})
	require.NoError(t, err)

	_, err = st.GetAnswer(ctx, pushed.Question.ID, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	res, err := st.InsertAnswer(ctx, &models.Answer{QuestionID: pushed.Question.ID, ParticipantID: p.ID, SelectedAnswer: "B"})
	require.NoError(t, err)
	got, err := st.GetAnswer(ctx, pushed.Question.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Answer.ID, got.ID)
	assert.Equal(t, "B", got.SelectedAnswer)
}
