package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"payment-orchestrator/internal/gateway"
	"payment-orchestrator/internal/models"
	"payment-orchestrator/internal/services"
)

// PaymentHandler handles payment lifecycle HTTP requests
type PaymentHandler struct {
	service *services.PaymentService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(service *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// Authorize handles POST /api/v1/payments/authorize
func (h *PaymentHandler) Authorize(c *gin.Context) {
	var req models.AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid order ID",
			Message: err.Error(),
		})
		return
	}

	payment, err := h.service.Authorize(c.Request.Context(), orderID, req.IdempotencyKey, req.ReturnURL)
	if err != nil {
		respondServiceError(c, "Failed to authorize payment", err)
		return
	}

	c.JSON(http.StatusCreated, models.NewPaymentResponse(payment))
}

// Capture handles POST /api/v1/payments/:id/capture
func (h *PaymentHandler) Capture(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid payment ID",
			Message: err.Error(),
		})
		return
	}

	payment, err := h.service.Capture(c.Request.Context(), paymentID)
	if err != nil {
		respondServiceError(c, "Failed to capture payment", err)
		return
	}

	c.JSON(http.StatusOK, models.NewPaymentResponse(payment))
}

// Refund handles POST /api/v1/payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid payment ID",
			Message: err.Error(),
		})
		return
	}

	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	lineItemID, err := parseOptionalUUID(req.LineItemID)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid line item ID",
			Message: err.Error(),
		})
		return
	}
	actorID, err := parseOptionalUUID(req.ActorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid actor ID",
			Message: err.Error(),
		})
		return
	}

	refund, err := h.service.Refund(c.Request.Context(), paymentID, req.AmountMinor, req.Reason, lineItemID, actorID)
	if err != nil {
		respondServiceError(c, "Failed to refund payment", err)
		return
	}

	c.JSON(http.StatusCreated, models.NewRefundResponse(refund))
}

// Cancel handles POST /api/v1/payments/:id/cancel
func (h *PaymentHandler) Cancel(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid payment ID",
			Message: err.Error(),
		})
		return
	}

	payment, err := h.service.Cancel(c.Request.Context(), paymentID)
	if err != nil {
		respondServiceError(c, "Failed to cancel payment", err)
		return
	}

	c.JSON(http.StatusOK, models.NewPaymentResponse(payment))
}

// Get handles GET /api/v1/payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid payment ID",
			Message: err.Error(),
		})
		return
	}

	payment, err := h.service.Get(c.Request.Context(), paymentID)
	if err != nil {
		respondServiceError(c, "Payment not found", err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// ListByOrder handles GET /api/v1/orders/:orderId/payments
func (h *PaymentHandler) ListByOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid order ID",
			Message: err.Error(),
		})
		return
	}

	payments, err := h.service.ListByOrder(c.Request.Context(), orderID)
	if err != nil {
		respondServiceError(c, "Failed to list payments", err)
		return
	}

	c.JSON(http.StatusOK, payments)
}

// ListRefunds handles GET /api/v1/payments/:id/refunds
func (h *PaymentHandler) ListRefunds(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid payment ID",
			Message: err.Error(),
		})
		return
	}

	refunds, err := h.service.ListRefunds(c.Request.Context(), paymentID)
	if err != nil {
		respondServiceError(c, "Failed to list refunds", err)
		return
	}

	c.JSON(http.StatusOK, refunds)
}

// respondServiceError maps service errors to HTTP statuses. Gateway declines
// surface as 502 so callers can distinguish provider trouble from bad input.
func respondServiceError(c *gin.Context, title string, err error) {
	var invalidState *services.InvalidStateError
	var validation *services.ValidationError
	var gatewayErr *gateway.GatewayError

	switch {
	case errors.Is(err, services.ErrPaymentNotFound),
		errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrRefundNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: title, Message: err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: title, Message: err.Error()})
	case errors.As(err, &invalidState):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: title, Message: err.Error()})
	case errors.As(err, &gatewayErr):
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: title, Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: title, Message: err.Error()})
	}
}

func parseOptionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
