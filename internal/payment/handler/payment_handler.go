package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/eventix/eventix/internal/payment/domain"
	"github.com/eventix/eventix/internal/payment/dto"
	"github.com/eventix/eventix/internal/payment/service"
	"github.com/eventix/eventix/pkg/response"
)

// userIDHeader carries the authenticated user id, set by the gateway
// after token validation.
const userIDHeader = "X-User-ID"

// PaymentHandler serves the payment API.
type PaymentHandler struct {
	payments service.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(payments service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// RegisterRoutes mounts the handler on the router group.
func (h *PaymentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	payments := rg.Group("/payments")
	{
		payments.POST("", h.Create)
		payments.GET("/:id", h.Get)
		payments.POST("/:id/refund", h.Refund)
	}
}

// Create handles POST /api/v1/payments
func (h *PaymentHandler) Create(c *gin.Context) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	payment, err := h.payments.EnsurePayment(c.Request.Context(), req.BookingID, userID, req.Amount, req.Currency)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Created(c, dto.FromDomainPayment(payment))
}

// Get handles GET /api/v1/payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	payment, err := h.payments.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			response.NotFound(c, "payment not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	if payment.UserID != userID {
		response.NotFound(c, "payment not found")
		return
	}
	response.Success(c, dto.FromDomainPayment(payment))
}

// Refund handles POST /api/v1/payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	var req dto.RefundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, err.Error())
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "user_requested"
	}

	payment, err := h.payments.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			response.NotFound(c, "payment not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	if payment.UserID != userID {
		response.NotFound(c, "payment not found")
		return
	}

	refunded, err := h.payments.RefundPayment(c.Request.Context(), payment.ID, reason)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotRefundable):
			response.BadRequest(c, "payment is not refundable")
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.Success(c, dto.FromDomainPayment(refunded))
}
