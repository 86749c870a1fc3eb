package questions

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSchedulerFiresOnce(t *testing.T) {
	var fired atomic.Int32
	s := NewScheduler(func(ctx context.Context, id uuid.UUID) error {
		fired.Add(1)
		return nil
	}, zaptest.NewLogger(t))
	defer s.Stop()

	id := uuid.New()
	s.Schedule(id, time.Now().Add(time.Hour))
	s.Schedule(id, time.Now().Add(10*time.Millisecond))
	assert.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 1, fired.Load())
	assert.Zero(t, s.Pending())
}

func TestSchedulerCancelAndStop(t *testing.T) {
	var fired atomic.Int32
	s := NewScheduler(func(ctx context.Context, id uuid.UUID) error {
		fired.Add(1)
		return nil
	}, zaptest.NewLogger(t))

	a, b := uuid.New(), uuid.New()
	s.Schedule(a, time.Now().Add(20*time.Millisecond))
	s.Schedule(b, time.Now().Add(20*time.Millisecond))
	s.Cancel(a)
	s.Stop()
	s.Schedule(a, time.Now())

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
	assert.Zero(t, s.Pending())
}
