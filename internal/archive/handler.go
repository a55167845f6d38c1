package archive

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/watchparty/backend/internal/models"
	"github.com/watchparty/backend/pkg/response"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Index reads the archive index.
type Index interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.PartyArchive, error)
	List(ctx context.Context, partyName string, limit int) ([]models.PartyArchive, error)
}

// Presigner issues download links for stored transcripts.
type Presigner interface {
	ArchiveDownloadURL(ctx context.Context, key string) (string, time.Time, error)
}

// Handler serves GET /party/archives and GET /party/archives/:id/download-url.
type Handler struct {
	index  Index
	links  Presigner
	logger *zap.Logger
}

// NewHandler creates an archive handler. links may be nil when storage is not configured.
func NewHandler(index Index, links Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{index: index, links: links, logger: logger}
}

// List handles GET /party/archives?name=&limit=.
func (h *Handler) List(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}
	list, err := h.index.List(c.Request.Context(), c.Query("name"), limit)
	if err != nil {
		h.logger.Error("list archives failed", zap.Error(err))
		response.Internal(c, "failed to list archives")
		return
	}
	if list == nil {
		list = []models.PartyArchive{}
	}
	response.OK(c, gin.H{"archives": list})
}

// DownloadURL handles GET /party/archives/:id/download-url.
func (h *Handler) DownloadURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid archive id")
		return
	}
	a, err := h.index.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "archive not found")
		return
	}
	if err != nil {
		h.logger.Error("get archive failed", zap.String("archive_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to load archive")
		return
	}
	if h.links == nil {
		response.ServiceUnavailable(c, "archive storage not configured")
		return
	}
	url, expires, err := h.links.ArchiveDownloadURL(c.Request.Context(), a.S3Key)
	if err != nil {
		h.logger.Error("presign archive failed", zap.String("archive_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, gin.H{"url": url, "expires_at": expires})
}
