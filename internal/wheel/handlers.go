package wheel

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/videncia/oraculo/internal/catalog"
	"github.com/videncia/oraculo/internal/metrics"
	"github.com/videncia/oraculo/internal/session"
)

// Handler provides HTTP endpoints for the reward wheel.
type Handler struct {
	engine  *Engine
	catalog *catalog.Catalog
}

// NewHandler creates a new wheel handler.
func NewHandler(engine *Engine, cat *catalog.Catalog) *Handler {
	return &Handler{engine: engine, catalog: cat}
}

// RegisterRoutes sets up wheel routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wheel", h.GetStatus)
	r.POST("/wheel/spin", h.Spin)
	r.POST("/wheel/close", h.Close)
}

// GetStatus handles GET /v1/wheel
func (h *Handler) GetStatus(c *gin.Context) {
	sid := session.FromContext(c)

	status, err := h.engine.Status(c.Request.Context(), sid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wheel": status})
}

type spinRequest struct {
	Service string `json:"service" binding:"required"`
}

// Spin handles POST /v1/wheel/spin
func (h *Handler) Spin(c *gin.Context) {
	sid := session.FromContext(c)

	var req spinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "service is required",
		})
		return
	}

	svc, err := h.catalog.Get(req.Service)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Unknown service",
		})
		return
	}

	result, err := h.engine.Spin(c.Request.Context(), sid, svc)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoSpins):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "no_spins",
				"message": "No spins available today",
			})
		case errors.Is(err, ErrSpinInFlight):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "spin_in_progress",
				"message": "A spin is already resolving",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	metrics.WheelSpinsTotal.WithLabelValues(string(result.Source)).Inc()
	metrics.WheelPrizesTotal.WithLabelValues(string(result.Prize.Kind)).Inc()

	c.JSON(http.StatusOK, gin.H{
		"result":        result,
		"revealDelayMs": RevealDelay.Milliseconds(),
	})
}

// Close handles POST /v1/wheel/close
func (h *Handler) Close(c *gin.Context) {
	sid := session.FromContext(c)

	if err := h.engine.Close(sid); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "no_result",
			"message": "No wheel result to close",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}
