package sessions

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/response"
)

// StartRequest is the body for POST /sessions.
type StartRequest struct {
	PresentationID    uuid.UUID `json:"presentation_id" binding:"required"`
	ClassID           uuid.UUID `json:"class_id" binding:"required"`
	Title             string    `json:"title"`
	Topic             string    `json:"topic"`
	ParticipationMode string    `json:"participation_mode" binding:"required,oneof=individual pairs"`
	CreditAmount      int       `json:"credit_amount" binding:"min=0"`
	DeductionAmount   int       `json:"deduction_amount" binding:"min=0"`
}

// SlideRequest is the body for PATCH /sessions/:id/slide.
type SlideRequest struct {
	SlideIndex *int `json:"slide_index" binding:"required,min=0"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	registry *Registry
	logger   *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(registry *Registry, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, logger: logger}
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

// Start handles POST /sessions (teacher).
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sess, err := h.registry.Start(c.Request.Context(), middleware.UserID(c), StartParams{
		PresentationID:    req.PresentationID,
		ClassID:           req.ClassID,
		Title:             req.Title,
		Topic:             req.Topic,
		ParticipationMode: models.ParticipationMode(req.ParticipationMode),
		CreditAmount:      req.CreditAmount,
		DeductionAmount:   req.DeductionAmount,
	})
	if err != nil {
		h.logger.Warn("start session failed", zap.Error(err))
		response.Error(c, err)
		return
	}
	response.Created(c, sess)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	sess, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// UpdateSlide handles PATCH /sessions/:id/slide (teacher).
func (h *Handler) UpdateSlide(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req SlideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sess, err := h.registry.UpdateSlide(c.Request.Context(), middleware.UserID(c), id, *req.SlideIndex)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sess)
}

// End handles POST /sessions/:id/end (teacher).
func (h *Handler) End(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	summary, err := h.registry.End(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		h.logger.Warn("end session failed", zap.String("session_id", id.String()), zap.Error(err))
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

// Participants handles GET /sessions/:id/participants (teacher).
func (h *Handler) Participants(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	sess, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if sess.TeacherID != middleware.UserID(c) {
		response.Forbidden(c, "only the session's teacher can list participants")
		return
	}
	list, err := h.registry.Roster(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if list == nil {
		list = []models.Participant{}
	}
	response.OK(c, list)
}
