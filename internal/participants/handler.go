package participants

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/pkg/response"
)

// JoinRequest is the body for POST /sessions/join.
type JoinRequest struct {
	Code             string     `json:"code" binding:"required"`
	PartnerStudentID *uuid.UUID `json:"partner_student_id"`
}

// AnswerRequest is the body for POST /questions/:id/answers.
type AnswerRequest struct {
	ParticipantID  uuid.UUID `json:"participant_id" binding:"required"`
	SelectedAnswer string    `json:"selected_answer" binding:"required"`
}

// Handler handles student endpoints.
type Handler struct {
	tracker *Tracker
	logger  *zap.Logger
}

// NewHandler creates a participants handler.
func NewHandler(tracker *Tracker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tracker: tracker, logger: logger}
}

// Join handles POST /sessions/join (student).
func (h *Handler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.tracker.Join(c.Request.Context(), req.Code, StudentIdentity{
		StudentID:        middleware.UserID(c),
		PartnerStudentID: req.PartnerStudentID,
	})
	if err != nil {
		h.logger.Debug("join rejected", zap.String("code", req.Code), zap.Error(err))
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// Answer handles POST /questions/:id/answers (student).
func (h *Handler) Answer(c *gin.Context) {
	questionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	a, err := h.tracker.SubmitAnswer(c.Request.Context(), middleware.UserID(c), req.ParticipantID, questionID, req.SelectedAnswer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, a)
}

// Get handles GET /participants/:id (student, own record).
func (h *Handler) Get(c *gin.Context) {
	participantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid participant id")
		return
	}
	p, err := h.tracker.Get(c.Request.Context(), middleware.UserID(c), participantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// Leave handles POST /participants/:id/leave (student).
func (h *Handler) Leave(c *gin.Context) {
	participantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid participant id")
		return
	}
	p, err := h.tracker.Leave(c.Request.Context(), middleware.UserID(c), participantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}
