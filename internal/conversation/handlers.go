package conversation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/videncia/oraculo/internal/catalog"
	"github.com/videncia/oraculo/internal/chat"
	"github.com/videncia/oraculo/internal/entitlement"
	"github.com/videncia/oraculo/internal/metrics"
	"github.com/videncia/oraculo/internal/session"
)

// Handler provides HTTP endpoints for conversations.
type Handler struct {
	controller   *Controller
	entitlements *entitlement.Store
	catalog      *catalog.Catalog
}

// NewHandler creates a new conversation handler.
func NewHandler(controller *Controller, ents *entitlement.Store, cat *catalog.Catalog) *Handler {
	return &Handler{controller: controller, entitlements: ents, catalog: cat}
}

// RegisterRoutes sets up service and conversation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/services", h.ListServices)
	r.GET("/services/:service/chat", h.GetChat)
	r.POST("/services/:service/chat", h.PostMessage)
	r.POST("/services/:service/chat/reset", h.ResetChat)
	r.GET("/services/:service/entitlement", h.GetEntitlement)
}

// ListServices handles GET /v1/services
func (h *Handler) ListServices(c *gin.Context) {
	type serviceView struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Persona    string `json:"persona"`
		FreeLimit  int    `json:"freeLimit"`
		PriceCents int64  `json:"priceCents"`
		Currency   string `json:"currency"`
	}
	services := h.catalog.List()
	views := make([]serviceView, 0, len(services))
	for _, svc := range services {
		views = append(views, serviceView{
			ID:         svc.ID,
			Name:       svc.Name,
			Persona:    svc.Persona.Name,
			FreeLimit:  svc.FreeLimit,
			PriceCents: svc.PriceCents,
			Currency:   svc.Currency,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"services": views,
		"count":    len(views),
	})
}

func (h *Handler) service(c *gin.Context) (catalog.ServiceConfig, bool) {
	svc, err := h.catalog.Get(c.Param("service"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Unknown service",
		})
		return catalog.ServiceConfig{}, false
	}
	return svc, true
}

// GetChat handles GET /v1/services/:service/chat
func (h *Handler) GetChat(c *gin.Context) {
	svc, ok := h.service(c)
	if !ok {
		return
	}
	sid := session.FromContext(c)

	transcript, err := h.controller.History(c.Request.Context(), sid, svc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": transcript})
}

type postMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// PostMessage handles POST /v1/services/:service/chat
func (h *Handler) PostMessage(c *gin.Context) {
	svc, ok := h.service(c)
	if !ok {
		return
	}
	sid := session.FromContext(c)

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "message is required",
		})
		return
	}

	result, err := h.controller.SendMessage(c.Request.Context(), sid, svc, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyMessage):
			metrics.MessagesTotal.WithLabelValues(svc.ID, "denied").Inc()
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "message is empty",
			})
		case errors.Is(err, ErrBusy):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "busy",
				"message": "Previous message still being answered",
			})
		case errors.Is(err, ErrBlocked), errors.Is(err, ErrLimitReached):
			metrics.MessagesTotal.WithLabelValues(svc.ID, "denied").Inc()
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "payment_required",
				"message": "Free consultations exhausted for this service",
			})
		case errors.Is(err, chat.ErrBackendUnavailable), errors.Is(err, chat.ErrBackendRefused):
			metrics.MessagesTotal.WithLabelValues(svc.ID, "backend_error").Inc()
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "backend_unavailable",
				"message": svc.Persona.ErrorMessage,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	metrics.MessagesTotal.WithLabelValues(svc.ID, "answered").Inc()
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// ResetChat handles POST /v1/services/:service/chat/reset
func (h *Handler) ResetChat(c *gin.Context) {
	svc, ok := h.service(c)
	if !ok {
		return
	}
	sid := session.FromContext(c)

	transcript, err := h.controller.NewConsultation(c.Request.Context(), sid, svc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": transcript})
}

// GetEntitlement handles GET /v1/services/:service/entitlement
func (h *Handler) GetEntitlement(c *gin.Context) {
	svc, ok := h.service(c)
	if !ok {
		return
	}
	sid := session.FromContext(c)

	snap, err := h.entitlements.Snapshot(c.Request.Context(), sid, svc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entitlement": snap})
}
