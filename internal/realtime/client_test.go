package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/internal/auth"
	"github.com/aura-classroom/backend/internal/changefeed"
	"github.com/aura-classroom/backend/internal/live"
	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/participants"
	"github.com/aura-classroom/backend/internal/questions"
	"github.com/aura-classroom/backend/internal/retry"
	"github.com/aura-classroom/backend/internal/sessions"
	"github.com/aura-classroom/backend/internal/store/memory"
)

var testRetry = retry.Policy{Attempts: 2, Initial: time.Millisecond, Max: time.Millisecond, Timeout: time.Second}

type inbound struct {
	Type  string          `json:"type"`
	Ref   string          `json:"ref"`
	Data  json.RawMessage `json:"data"`
	Code  string          `json:"code"`
	Error string          `json:"error"`
}

type server struct {
	url     string
	hub     *Hub
	store   *memory.Store
	svc     live.Services
	teacher uuid.UUID
	student uuid.UUID
	session *models.Session
}

// newServer serves /ws behind a stand-in for the JWT middleware that trusts the
// user_id and role query parameters.
func newServer(t *testing.T) *server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	feed := changefeed.New(logger, 0, nil, nil)
	st := memory.New(feed)
	coord := questions.NewCoordinator(st, testRetry, logger)
	t.Cleanup(coord.Stop)
	svc := live.Services{
		Sessions: sessions.NewRegistry(st, sessions.Config{
			Retry: testRetry,
			Codes: func() (string, error) { return "KPL249", nil },
		}, logger),
		Questions:    coord,
		Participants: participants.NewTracker(st, testRetry, logger),
		Feed:         feed,
	}
	hub := NewHub(logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, uuid.MustParse(c.Query("user_id")))
		c.Set(middleware.ContextUserRole, c.Query("role"))
		c.Next()
	}, ServeWs(hub, svc, logger))
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	t.Cleanup(hub.Shutdown)

	s := &server{url: ts.URL, hub: hub, store: st, svc: svc, teacher: uuid.New(), student: uuid.New()}
	class := uuid.New()
	st.Enroll(class, s.student)
	s.session, _ = svc.Sessions.Start(context.Background(), s.teacher, sessions.StartParams{
		PresentationID:    uuid.New(),
		ClassID:           class,
		Title:             "Optics",
		ParticipationMode: models.ModeIndividual,
	})
	require.NotNil(t, s.session)
	return s
}

func (s *server) dial(t *testing.T, query url.Values) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.url, "http") + "/ws?" + query.Encode()
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *server) dialTeacher(t *testing.T) *websocket.Conn {
	return s.dial(t, url.Values{"user_id": {s.teacher.String()}, "role": {auth.RoleTeacher}, "session_id": {s.session.ID.String()}})
}

func (s *server) dialStudent(t *testing.T) *websocket.Conn {
	return s.dial(t, url.Values{"user_id": {s.student.String()}, "role": {auth.RoleStudent}, "code": {"kpl249"}})
}

func send(t *testing.T, conn *websocket.Conn, typ, ref string, data any) {
	t.Helper()
	cmd := map[string]any{"type": typ, "ref": ref}
	if data != nil {
		cmd["data"] = data
	}
	require.NoError(t, conn.WriteJSON(cmd))
}

// await reads frames until match accepts one.
func await(t *testing.T, conn *websocket.Conn, match func(inbound) bool) inbound {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var f inbound
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func isRef(ref string) func(inbound) bool {
	return func(f inbound) bool { return f.Ref == ref }
}

func TestWebsocketClassroom(t *testing.T) {
	s := newServer(t)

	teacher := s.dialTeacher(t)
	first := await(t, teacher, func(f inbound) bool { return f.Type == FrameState })
	var ts live.TeacherSnapshot
	require.NoError(t, json.Unmarshal(first.Data, &ts))
	assert.Equal(t, s.session.ID, ts.Session.ID)

	student := s.dialStudent(t)
	await(t, student, func(f inbound) bool { return f.Type == FrameState })
	require.Eventually(t, func() bool { return s.hub.Count(s.session.ID) == 2 }, time.Second, 5*time.Millisecond)

	send(t, teacher, CmdPushQuestion, "p1", gin.H{"prompt": "Speed of light?", "options": []string{"c", "2c"}, "correct_answer": "c"})
	ack := await(t, teacher, isRef("p1"))
	require.Equal(t, FrameAck, ack.Type)
	var q models.Question
	require.NoError(t, json.Unmarshal(ack.Data, &q))

	state := await(t, student, func(f inbound) bool {
		var ss live.StudentSnapshot
		return f.Type == FrameState && json.Unmarshal(f.Data, &ss) == nil && ss.ActiveQuestion != nil
	})
	var ss live.StudentSnapshot
	require.NoError(t, json.Unmarshal(state.Data, &ss))
	assert.Equal(t, q.ID, ss.ActiveQuestion.ID)
	assert.Nil(t, ss.ActiveQuestion.CorrectAnswer)

	send(t, student, CmdSubmitAnswer, "a1", gin.H{"value": "c"})
	ack = await(t, student, isRef("a1"))
	require.Equal(t, FrameAck, ack.Type)

	send(t, student, CmdSubmitAnswer, "a2", gin.H{"value": "2c"})
	rejected := await(t, student, isRef("a2"))
	assert.Equal(t, FrameError, rejected.Type)
	assert.Equal(t, "already_answered", rejected.Code)

	await(t, teacher, func(f inbound) bool {
		var snap live.TeacherSnapshot
		return f.Type == FrameState && json.Unmarshal(f.Data, &snap) == nil && len(snap.Answers) == 1
	})

	send(t, student, CmdPushQuestion, "x", gin.H{"prompt": "mine now"})
	rejected = await(t, student, isRef("x"))
	assert.Equal(t, FrameError, rejected.Type)
	assert.Equal(t, "invalid_argument", rejected.Code)

	send(t, teacher, CmdEndSession, "e1", nil)
	ack = await(t, teacher, isRef("e1"))
	require.Equal(t, FrameAck, ack.Type)
	await(t, student, func(f inbound) bool {
		var snap live.StudentSnapshot
		return f.Type == FrameState && json.Unmarshal(f.Data, &snap) == nil && snap.Session.Ended()
	})
}

func TestWebsocketStudentDisconnectAndLeave(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	conn := s.dialStudent(t)
	await(t, conn, func(f inbound) bool { return f.Type == FrameState })
	roster, err := s.svc.Sessions.Roster(ctx, s.session.ID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	pid := roster[0].ID

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		p, err := s.store.GetParticipant(ctx, pid)
		return err == nil && p.Status == models.ParticipantDisconnected
	}, 2*time.Second, 5*time.Millisecond)

	conn = s.dialStudent(t)
	await(t, conn, func(f inbound) bool { return f.Type == FrameState })
	p, err := s.store.GetParticipant(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantActive, p.Status)

	send(t, conn, CmdLeave, "bye", nil)
	ack := await(t, conn, isRef("bye"))
	assert.Equal(t, FrameAck, ack.Type)
	require.Eventually(t, func() bool { return s.hub.Count(s.session.ID) == 0 }, 2*time.Second, 5*time.Millisecond)

	p, err = s.store.GetParticipant(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantLeft, p.Status)
}

func TestWebsocketRejectsBeforeUpgrade(t *testing.T) {
	s := newServer(t)
	u := "ws" + strings.TrimPrefix(s.url, "http") + "/ws?"

	_, resp, err := websocket.DefaultDialer.Dial(u+url.Values{
		"user_id": {uuid.NewString()}, "role": {auth.RoleTeacher}, "session_id": {s.session.ID.String()},
	}.Encode(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(u+url.Values{
		"user_id": {uuid.NewString()}, "role": {auth.RoleStudent}, "code": {"KPL249"},
	}.Encode(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	check := CheckOrigin([]string{"https://class.example"})
	r := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://class.example")
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))
	assert.True(t, CheckOrigin([]string{"*"})(r))
}
