package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/store"
)

func receive(t *testing.T, sub *Subscription) Notification {
	t.Helper()
	select {
	case n, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}
	return Notification{}
}

func assertQuiet(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case n := <-sub.C:
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMap(t *testing.T) {
	sessionID := uuid.New()
	active := &models.Question{ID: uuid.New(), SessionID: sessionID, IsActive: true}
	closed := &models.Question{ID: uuid.New(), SessionID: sessionID}

	tests := []struct {
		name   string
		change store.Change
		want   []Kind
	}{
		{"session", store.Change{Table: store.TableSessions, Op: store.OpUpdate}, []Kind{KindSessionUpdated}},
		{"participant", store.Change{Table: store.TableParticipants, Op: store.OpInsert}, []Kind{KindRosterChanged}},
		{"question pushed", store.Change{Table: store.TableQuestions, Op: store.OpInsert, Row: active}, []Kind{KindQuestionActivated}},
		{"question closed", store.Change{Table: store.TableQuestions, Op: store.OpUpdate, Row: closed}, []Kind{KindQuestionClosed}},
		{"answer", store.Change{Table: store.TableAnswers, Op: store.OpInsert}, []Kind{KindAnswerReceived, KindRosterChanged}},
		{"unknown table", store.Change{Table: "slides", Op: store.OpInsert}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.change.SessionID = sessionID
			var got []Kind
			for _, n := range Map(tt.change) {
				assert.Equal(t, sessionID, n.SessionID)
				got = append(got, n.Kind)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFeedDeliversPerSession(t *testing.T) {
	f := New(zaptest.NewLogger(t), 4, nil, nil)
	a, b := uuid.New(), uuid.New()

	subA, err := f.Subscribe(a)
	require.NoError(t, err)
	subA2, err := f.Subscribe(a)
	require.NoError(t, err)
	subB, err := f.Subscribe(b)
	require.NoError(t, err)

	f.Emit(context.Background(), store.Change{Table: store.TableSessions, Op: store.OpUpdate, SessionID: a, RowID: a})

	assert.Equal(t, KindSessionUpdated, receive(t, subA).Kind)
	assert.Equal(t, KindSessionUpdated, receive(t, subA2).Kind)
	assertQuiet(t, subB)
}

func TestFeedDropsWhenBufferFull(t *testing.T) {
	f := New(zaptest.NewLogger(t), 1, nil, nil)
	id := uuid.New()
	sub, err := f.Subscribe(id)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		f.Publish(context.Background(), Notification{Kind: KindRosterChanged, SessionID: id})
	}
	receive(t, sub)
	assertQuiet(t, sub)
}

func TestSubscriptionCancel(t *testing.T) {
	f := New(zaptest.NewLogger(t), 1, nil, nil)
	id := uuid.New()
	sub, err := f.Subscribe(id)
	require.NoError(t, err)
	other, err := f.Subscribe(id)
	require.NoError(t, err)

	sub.Cancel()
	sub.Cancel()
	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 1, f.Subscribers(id))

	f.Publish(context.Background(), Notification{Kind: KindRosterChanged, SessionID: id})
	receive(t, other)
	other.Cancel()
	assert.Equal(t, 0, f.Subscribers(id))
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisBridgeDeliversAcrossInstances(t *testing.T) {
	client := newRedis(t)
	logger := zaptest.NewLogger(t)
	bridgeA := NewRedisBridge(client, logger)
	bridgeB := NewRedisBridge(client, logger)
	feedA := New(logger, 4, bridgeA, bridgeA)
	feedB := New(logger, 4, bridgeB, bridgeB)

	id := uuid.New()
	subA, err := feedA.Subscribe(id)
	require.NoError(t, err)
	subB, err := feedB.Subscribe(id)
	require.NoError(t, err)

	feedA.Emit(context.Background(), store.Change{Table: store.TableParticipants, Op: store.OpInsert, SessionID: id, RowID: uuid.New()})

	assert.Equal(t, KindRosterChanged, receive(t, subA).Kind)
	assert.Equal(t, KindRosterChanged, receive(t, subB).Kind)
	// The publishing instance delivers once, through the bridge.
	assertQuiet(t, subA)
}

func TestRedisBridgeStopsAfterLastCancel(t *testing.T) {
	client := newRedis(t)
	bridge := NewRedisBridge(client, zaptest.NewLogger(t))
	f := New(zaptest.NewLogger(t), 4, bridge, bridge)

	id := uuid.New()
	sub, err := f.Subscribe(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(context.Background(), Channel(id)).Result()
		return err == nil && n[Channel(id)] == 1
	}, 2*time.Second, 10*time.Millisecond)

	sub.Cancel()
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(context.Background(), Channel(id)).Result()
		return err == nil && n[Channel(id)] == 0
	}, 2*time.Second, 10*time.Millisecond)
}
