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
	"github.com/aura-classroom/backend/pkg/storage"
)

type fakeExports struct {
	keys map[string]bool
}

func (f *fakeExports) Exists(_ context.Context, bucket, key string) (bool, error) {
	return f.keys[bucket+"/"+key], nil
}

func (f *fakeExports) GeneratePresignedDownloadURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://signed/" + bucket + "/" + key, nil
}

func (f *fakeExports) ReportsBucket() string        { return "reports" }
func (f *fakeExports) PresignExpire() time.Duration { return time.Minute }

func TestSettlementLink(t *testing.T) {
	ctx := context.Background()
	st := memory.New(nil)
	teacher := uuid.New()
	sess := &models.Session{ID: uuid.New(), TeacherID: teacher, Status: models.SessionActive, JoinCode: "ABCDEF", CreatedAt: time.Now()}
	require.NoError(t, st.CreateSession(ctx, sess))

	rep := NewReporter(st, retry.Policy{Attempts: 1, Initial: time.Millisecond, Max: time.Millisecond, Timeout: time.Second}, zaptest.NewLogger(t))
	_, err := rep.SettlementLink(ctx, teacher, sess.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	exports := &fakeExports{keys: map[string]bool{}}
	rep.SetExports(exports)
	_, err = rep.SettlementLink(ctx, teacher, sess.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "still active")

	res, err := st.EndSession(ctx, sess.ID, time.Now())
	require.NoError(t, err)
	_, err = rep.SettlementLink(ctx, teacher, sess.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "export not written yet")

	key := storage.SettlementKey(sess.ID.String(), *res.Session.EndedAt)
	exports.keys["reports/"+key] = true
	link, err := rep.SettlementLink(ctx, teacher, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, key, link.Key)
	assert.Equal(t, "https://signed/reports/"+key, link.URL)

	_, err = rep.SettlementLink(ctx, uuid.New(), sess.ID)
	assert.ErrorIs(t, err, apperr.ErrNotSessionTeacher)
}
