package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/videncia/oraculo/internal/catalog"
	"github.com/videncia/oraculo/internal/entitlement"
	"github.com/videncia/oraculo/internal/pagination"
	"github.com/videncia/oraculo/internal/session"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Handler provides the back-office HTTP endpoints.
type Handler struct {
	catalog *catalog.Catalog
	dir     SessionDirectory
	ents    Entitlements
	end     SessionEnder
}

// NewHandler creates the back-office handler.
func NewHandler(cat *catalog.Catalog, dir SessionDirectory, ents Entitlements, end SessionEnder) *Handler {
	return &Handler{catalog: cat, dir: dir, ents: ents, end: end}
}

// RegisterRoutes sets up the back-office routes. The group is expected to
// carry the operator token middleware already.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/sessions", h.listSessions)
	r.GET("/sessions/:id", h.sessionDetail)
	r.POST("/sessions/:id/grant", h.grant)
	r.DELETE("/sessions/:id", h.endSession)
}

// listSessions returns live sessions newest first, cursor-paginated.
func (h *Handler) listSessions(c *gin.Context) {
	limit := defaultPageSize
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxPageSize {
			limit = parsed
		}
	}

	cur, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "Malformed pagination cursor"})
		return
	}
	var createdBefore time.Time
	var beforeID string
	if cur != nil {
		createdBefore = cur.CreatedAt
		beforeID = cur.ID
	}

	// Fetch one extra row to learn whether another page exists.
	infos, err := h.dir.ListActive(c.Request.Context(), createdBefore, beforeID, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "message": err.Error()})
		return
	}
	infos, next, hasMore := pagination.ComputePage(infos, limit, func(in session.Info) (time.Time, string) {
		return in.CreatedAt, in.ID
	})

	total, err := h.dir.CountActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count_failed", "message": err.Error()})
		return
	}

	if infos == nil {
		infos = []session.Info{}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":    infos,
		"totalActive": total,
		"nextCursor":  next,
		"hasMore":     hasMore,
	})
}

// sessionDetail returns the entitlement state for every service plus the
// shared wheel currencies and captured contact info.
func (h *Handler) sessionDetail(c *gin.Context) {
	sid := c.Param("id")
	ctx := c.Request.Context()

	detail := SessionDetail{ID: sid}

	info, err := h.ents.ContactInfo(ctx, sid)
	switch {
	case err == nil:
		detail.Email = info.Email
	case errors.Is(err, entitlement.ErrNoContactInfo):
		// Nothing captured yet.
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "detail_failed", "message": err.Error()})
		return
	}

	detail.Wheel, err = h.ents.Wheel(ctx, sid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "detail_failed", "message": err.Error()})
		return
	}

	for _, svc := range h.catalog.List() {
		snap, err := h.ents.Snapshot(ctx, sid, svc)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "detail_failed", "message": err.Error()})
			return
		}
		detail.Services = append(detail.Services, snap)
	}

	c.JSON(http.StatusOK, gin.H{"session": detail})
}

type grantRequest struct {
	Service            string `json:"service"`
	BonusConsultations int    `json:"bonusConsultations"`
	ExtraSpins         int    `json:"extraSpins"`
	FullAccess         bool   `json:"fullAccess"`
}

// grant applies a support grant: bonus consultations or a full unlock on
// one service, or extra wheel spins on the session.
func (h *Handler) grant(c *gin.Context) {
	sid := c.Param("id")
	ctx := c.Request.Context()

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Malformed grant body"})
		return
	}
	if req.BonusConsultations <= 0 && req.ExtraSpins <= 0 && !req.FullAccess {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_grant", "message": "Nothing to grant"})
		return
	}

	var svc catalog.ServiceConfig
	if req.BonusConsultations > 0 || req.FullAccess {
		var err error
		svc, err = h.catalog.Get(req.Service)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_service", "message": "No such service"})
			return
		}
	}

	if req.BonusConsultations > 0 {
		if err := h.ents.GrantBonusConsultations(ctx, sid, svc, req.BonusConsultations); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "grant_failed", "message": err.Error()})
			return
		}
	}
	if req.FullAccess {
		if err := h.ents.GrantFullAccess(ctx, sid, svc); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "grant_failed", "message": err.Error()})
			return
		}
	}
	if req.ExtraSpins > 0 {
		if err := h.ents.GrantExtraSpins(ctx, sid, req.ExtraSpins); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "grant_failed", "message": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"granted": true, "sessionId": sid})
}

// endSession tears down a session and everything scheduled for it.
func (h *Handler) endSession(c *gin.Context) {
	sid := c.Param("id")
	if err := h.end(c.Request.Context(), sid); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "end_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": true, "sessionId": sid})
}
