package leads

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/videncia/oraculo/internal/session"
)

// Handler provides HTTP endpoints for lead capture.
type Handler struct {
	service *Service
}

// NewHandler creates a new lead handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up lead routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/leads", h.Capture)
}

type captureRequest struct {
	Email     string                 `json:"email" binding:"required"`
	Name      string                 `json:"name"`
	Phone     string                 `json:"phone"`
	ServiceID string                 `json:"serviceId"`
	Extra     map[string]interface{} `json:"extra"`
}

// Capture handles POST /v1/leads
func (h *Handler) Capture(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "email is required",
		})
		return
	}
	sid := session.FromContext(c)

	err := h.service.Capture(c.Request.Context(), sid, Lead{
		Email:     req.Email,
		Name:      req.Name,
		Phone:     req.Phone,
		ServiceID: req.ServiceID,
		Extra:     req.Extra,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidEmail) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_email",
				"message": "A valid email address is required",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "captured"})
}
