package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/videncia/oraculo/internal/catalog"
	"github.com/videncia/oraculo/internal/metrics"
	"github.com/videncia/oraculo/internal/session"
)

// Handler provides HTTP endpoints for the unlock purchase flow.
type Handler struct {
	flow    *Flow
	catalog *catalog.Catalog
}

// NewHandler creates a new payment handler.
func NewHandler(flow *Flow, cat *catalog.Catalog) *Handler {
	return &Handler{flow: flow, catalog: cat}
}

// RegisterRoutes sets up checkout and return routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/services/:service/checkout", h.CreateCheckout)
	r.GET("/payments/return", h.HandleReturn)
}

type checkoutRequest struct {
	Message string `json:"message"`
}

// CreateCheckout handles POST /v1/services/:service/checkout
func (h *Handler) CreateCheckout(c *gin.Context) {
	svc, err := h.catalog.Get(c.Param("service"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Unknown service",
		})
		return
	}
	sid := session.FromContext(c)

	var req checkoutRequest
	// Body is optional; checkout without a pending message is valid.
	_ = c.ShouldBindJSON(&req)

	checkout, err := h.flow.Initiate(c.Request.Context(), sid, svc, req.Message)
	if err != nil {
		if errors.Is(err, ErrEmailRequired) {
			c.JSON(http.StatusPreconditionFailed, gin.H{
				"error":   "email_required",
				"message": "Contact info must be captured before checkout",
			})
			return
		}
		metrics.PaymentsTotal.WithLabelValues("failed").Inc()
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "checkout_failed",
			"message": err.Error(),
		})
		return
	}

	metrics.PaymentsTotal.WithLabelValues("initiated").Inc()
	c.JSON(http.StatusOK, gin.H{"checkout": checkout})
}

// HandleReturn handles GET /v1/payments/return
//
// Redirects back to the site root in every case; query parameters from
// the provider never survive the redirect.
func (h *Handler) HandleReturn(c *gin.Context) {
	checkoutID := c.Query("session_id")
	serviceID := c.Query("service")
	sid := session.FromContext(c)

	svc, err := h.catalog.Get(serviceID)
	if err != nil || checkoutID == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}

	if err := h.flow.HandleReturn(c.Request.Context(), sid, svc, checkoutID); err != nil {
		metrics.PaymentsTotal.WithLabelValues("failed").Inc()
		c.Redirect(http.StatusFound, "/?service="+serviceID+"&checkout=failed")
		return
	}

	metrics.PaymentsTotal.WithLabelValues("completed").Inc()
	c.Redirect(http.StatusFound, "/?service="+serviceID)
}
