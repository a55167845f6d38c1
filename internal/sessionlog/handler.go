package sessionlog

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/watchparty/backend/internal/middleware"
	"github.com/watchparty/backend/internal/models"
	"github.com/watchparty/backend/pkg/response"
)

const defaultListLimit = 200

// Lister reads attendance rows.
type Lister interface {
	ListByParty(ctx context.Context, partyID int64, limit int) ([]models.Attendance, error)
}

// Handler handles GET /party/attendance.
type Handler struct {
	repo         Lister
	currentParty func(sessionID string) (int64, bool)
}

// NewHandler creates an attendance handler. currentParty resolves the caller's
// party when no party_id is given.
func NewHandler(repo Lister, currentParty func(sessionID string) (int64, bool)) *Handler {
	return &Handler{repo: repo, currentParty: currentParty}
}

// GetAttendance handles GET /party/attendance?party_id=.
func (h *Handler) GetAttendance(c *gin.Context) {
	var partyID int64
	if raw := c.Query("party_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			response.BadRequest(c, "invalid party_id")
			return
		}
		partyID = id
	} else {
		id, ok := h.currentParty(middleware.SessionID(c))
		if !ok {
			response.BadRequest(c, "party_id required when not in a party")
			return
		}
		partyID = id
	}
	list, err := h.repo.ListByParty(c.Request.Context(), partyID, defaultListLimit)
	if err != nil {
		response.Internal(c, "failed to list attendance")
		return
	}
	if list == nil {
		list = []models.Attendance{}
	}
	response.OK(c, gin.H{"party_id": partyID, "attendance": list})
}
