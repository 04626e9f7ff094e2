package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/eventix/eventix/internal/booking/domain"
	"github.com/eventix/eventix/internal/booking/dto"
	"github.com/eventix/eventix/internal/booking/service"
	"github.com/eventix/eventix/pkg/response"
)

// userIDHeader carries the authenticated user id, set by the gateway
// after token validation.
const userIDHeader = "X-User-ID"

// BookingHandler serves the booking API.
type BookingHandler struct {
	bookings service.BookingService
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings service.BookingService) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

// RegisterRoutes mounts the handler on the router group.
func (h *BookingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	bookings := rg.Group("/bookings")
	{
		bookings.POST("/create", h.Create)
		bookings.GET("", h.List)
		bookings.GET("/:id", h.Get)
		bookings.PUT("/:id/cancel", h.Cancel)
	}
}

// Create handles POST /api/v1/bookings/create
func (h *BookingHandler) Create(c *gin.Context) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	booking, correlationID, err := h.bookings.Create(c.Request.Context(), req.ToDomain(userID))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoItems), errors.Is(err, domain.ErrTotalMismatch):
			response.BadRequest(c, err.Error())
		default:
			response.InternalError(c, err)
		}
		return
	}

	response.Created(c, &dto.CreateBookingResponse{
		BookingID:        booking.ID,
		BookingReference: booking.BookingReference,
		Status:           "initiated",
		CorrelationID:    correlationID,
	})
}

// Get handles GET /api/v1/bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	booking, err := h.bookings.GetByID(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrBookingNotFound) {
			response.NotFound(c, "booking not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, dto.FromDomainBooking(booking))
}

// List handles GET /api/v1/bookings
func (h *BookingHandler) List(c *gin.Context) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	bookings, total, err := h.bookings.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	out := make([]*dto.BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, dto.FromDomainBooking(b))
	}
	response.Success(c, &dto.ListBookingsResponse{
		Bookings: out,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// Cancel handles PUT /api/v1/bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	userID := c.GetHeader(userIDHeader)
	if userID == "" {
		response.Unauthorized(c, "missing user identity")
		return
	}

	booking, err := h.bookings.Cancel(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrBookingNotFound):
			response.NotFound(c, "booking not found")
		case errors.Is(err, domain.ErrNotCancellable):
			response.BadRequest(c, err.Error())
		default:
			response.InternalError(c, err)
		}
		return
	}

	response.Success(c, gin.H{
		"booking_id": booking.ID,
		"status":     "cancelled",
	})
}
