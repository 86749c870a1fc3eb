package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/models"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
}

func newRouter(t *testing.T, h *Handler, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Next()
	})
	router.POST("/sessions", h.Start)
	router.GET("/sessions/:id", h.Get)
	router.PATCH("/sessions/:id/slide", h.UpdateSlide)
	router.POST("/sessions/:id/end", h.End)
	router.GET("/sessions/:id/participants", h.Participants)
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestHandlerSessionLifecycle(t *testing.T) {
	r, _ := newRegistry(t, Config{})
	teacher := uuid.New()
	router := newRouter(t, NewHandler(r, zaptest.NewLogger(t)), teacher)

	rec, env := do(t, router, http.MethodPost, "/sessions", gin.H{
		"presentation_id":    uuid.New(),
		"class_id":           uuid.New(),
		"title":              "Algebra",
		"participation_mode": "pairs",
		"credit_amount":      5,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sess models.Session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, models.ModePairs, sess.ParticipationMode)

	rec, env = do(t, router, http.MethodPatch, "/sessions/"+sess.ID.String()+"/slide", gin.H{"slide_index": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, 3, sess.CurrentSlideIndex)

	rec, env = do(t, router, http.MethodGet, "/sessions/"+sess.ID.String()+"/participants", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	rec, _ = do(t, router, http.MethodPost, "/sessions/"+sess.ID.String()+"/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, router, http.MethodPatch, "/sessions/"+sess.ID.String()+"/slide", gin.H{"slide_index": 4})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "session_ended", env.Code)
}

func TestHandlerRejectsOtherTeacher(t *testing.T) {
	r, _ := newRegistry(t, Config{})
	owner := uuid.New()
	sess, err := r.Start(context.Background(), owner, startParams())
	require.NoError(t, err)

	router := newRouter(t, NewHandler(r, zaptest.NewLogger(t)), uuid.New())
	rec, env := do(t, router, http.MethodPost, "/sessions/"+sess.ID.String()+"/end", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_session_teacher", env.Code)

	rec, _ = do(t, router, http.MethodPost, "/sessions", gin.H{"class_id": uuid.New()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
