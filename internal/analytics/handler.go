package analytics

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/pkg/response"
)

// Handler handles GET /sessions/:id/report.
type Handler struct {
	reporter *Reporter
	logger   *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(reporter *Reporter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reporter: reporter, logger: logger}
}

// GetBySession handles GET /sessions/:id/report. Only the session's teacher may read it.
func (h *Handler) GetBySession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	report, err := h.reporter.Report(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		h.logger.Warn("session report failed", zap.String("session_id", id.String()), zap.Error(err))
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// GetSettlement handles GET /sessions/:id/settlement.
func (h *Handler) GetSettlement(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	link, err := h.reporter.SettlementLink(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, link)
}
