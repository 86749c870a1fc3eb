package questions

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/auth"
	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/pkg/response"
)

// PushRequest is the body for POST /sessions/:id/questions.
type PushRequest struct {
	SlideIndex       int      `json:"slide_index" binding:"min=0"`
	Prompt           string   `json:"prompt" binding:"required"`
	Options          []string `json:"options"`
	CorrectAnswer    *string  `json:"correct_answer"`
	Explanation      *string  `json:"explanation"`
	TimeLimitSeconds *int     `json:"time_limit_seconds" binding:"omitempty,min=1"`
}

// Handler handles question HTTP endpoints.
type Handler struct {
	coord  *Coordinator
	logger *zap.Logger
}

// NewHandler creates a questions handler.
func NewHandler(coord *Coordinator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{coord: coord, logger: logger}
}

func paramID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

// Push handles POST /sessions/:id/questions (teacher).
func (h *Handler) Push(c *gin.Context) {
	sessionID, ok := paramID(c, "session")
	if !ok {
		return
	}
	var req PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q, err := h.coord.Push(c.Request.Context(), middleware.UserID(c), sessionID, PushParams{
		SlideIndex:       req.SlideIndex,
		Prompt:           req.Prompt,
		Options:          req.Options,
		CorrectAnswer:    req.CorrectAnswer,
		Explanation:      req.Explanation,
		TimeLimitSeconds: req.TimeLimitSeconds,
	})
	if err != nil {
		h.logger.Warn("push question failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		response.Error(c, err)
		return
	}
	response.Created(c, q)
}

// CloseActive handles POST /sessions/:id/questions/close (teacher).
func (h *Handler) CloseActive(c *gin.Context) {
	sessionID, ok := paramID(c, "session")
	if !ok {
		return
	}
	q, err := h.coord.Close(c.Request.Context(), middleware.UserID(c), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}

// Close handles POST /questions/:id/close (teacher).
func (h *Handler) Close(c *gin.Context) {
	questionID, ok := paramID(c, "question")
	if !ok {
		return
	}
	q, err := h.coord.CloseQuestion(c.Request.Context(), middleware.UserID(c), questionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}

// List handles GET /sessions/:id/questions (teacher).
func (h *Handler) List(c *gin.Context) {
	sessionID, ok := paramID(c, "session")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.coord.session(ctx, middleware.UserID(c), sessionID); err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.coord.List(ctx, sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Answers handles GET /questions/:id/answers (teacher).
func (h *Handler) Answers(c *gin.Context) {
	questionID, ok := paramID(c, "question")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	q, err := h.coord.Get(ctx, questionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.coord.session(ctx, middleware.UserID(c), q.SessionID); err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.coord.Answers(ctx, questionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Active handles GET /sessions/:id/active-question. Students do not see the answer key
// while the question is open.
func (h *Handler) Active(c *gin.Context) {
	sessionID, ok := paramID(c, "session")
	if !ok {
		return
	}
	q, err := h.coord.Active(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if q == nil {
		response.OK(c, nil)
		return
	}
	if middleware.UserRole(c) != auth.RoleTeacher {
		v := q.PublicView()
		q = &v
	}
	response.OK(c, q)
}
