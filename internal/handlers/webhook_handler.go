package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"payment-orchestrator/internal/gateway"
	"payment-orchestrator/internal/models"
	"payment-orchestrator/internal/services"
)

// WebhookHandler receives asynchronous gateway notifications
type WebhookHandler struct {
	service *services.WebhookService
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// HandleStripeWebhook handles POST /webhooks/stripe
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	h.handle(c, models.ProviderStripe, c.GetHeader("Stripe-Signature"))
}

// HandleRazorpayWebhook handles POST /webhooks/razorpay
func (h *WebhookHandler) HandleRazorpayWebhook(c *gin.Context) {
	h.handle(c, models.ProviderRazorpay, c.GetHeader("X-Razorpay-Signature"))
}

func (h *WebhookHandler) handle(c *gin.Context, provider models.ProviderName, signature string) {
	if signature == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Missing signature",
			Message: "webhook signature header is required",
		})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Failed to read request body",
			Message: err.Error(),
		})
		return
	}

	if err := h.service.ProcessWebhook(c.Request.Context(), provider, body, signature); err != nil {
		if errors.Is(err, gateway.ErrSignatureVerification) {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "Invalid signature",
				Message: "webhook signature verification failed",
			})
			return
		}
		if errors.Is(err, services.ErrWebhookDeferred) {
			// The event row is durable; ack so the provider does not storm
			// redeliveries. The retry loop owns the row now.
			c.JSON(http.StatusOK, gin.H{"message": "Webhook accepted"})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to process webhook",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Webhook processed successfully"})
}
