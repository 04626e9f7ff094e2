package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eventix/eventix/internal/inventory/domain"
	"github.com/eventix/eventix/internal/inventory/dto"
	"github.com/eventix/eventix/internal/inventory/service"
	"github.com/eventix/eventix/pkg/response"
)

// EventHandler serves the event catalog and the availability query.
type EventHandler struct {
	events    service.EventService
	inventory service.InventoryService
}

// NewEventHandler creates a new EventHandler
func NewEventHandler(events service.EventService, inventory service.InventoryService) *EventHandler {
	return &EventHandler{events: events, inventory: inventory}
}

// RegisterRoutes mounts the handler on the router group.
func (h *EventHandler) RegisterRoutes(rg *gin.RouterGroup) {
	evts := rg.Group("/events")
	{
		evts.POST("", h.Create)
		evts.GET("", h.List)
		evts.GET("/:id", h.Get)
		evts.GET("/:id/availability", h.Availability)
		evts.POST("/:id/publish", h.Publish)
	}
}

// Create handles POST /api/v1/events
func (h *EventHandler) Create(c *gin.Context) {
	var req dto.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	event := req.ToDomain()
	if err := h.events.Create(c.Request.Context(), event); err != nil {
		response.InternalError(c, err)
		return
	}
	response.Created(c, dto.FromDomainEvent(event))
}

// Get handles GET /api/v1/events/:id
func (h *EventHandler) Get(c *gin.Context) {
	event, err := h.events.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			response.NotFound(c, "event not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, dto.FromDomainEvent(event))
}

// List handles GET /api/v1/events
func (h *EventHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, total, err := h.events.List(c.Request.Context(), limit, offset)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	out := make([]*dto.EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, dto.FromDomainEvent(e))
	}
	response.Success(c, &dto.ListEventsResponse{
		Events: out,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// Availability handles GET /api/v1/events/:id/availability?seat_ids=a,b
func (h *EventHandler) Availability(c *gin.Context) {
	eventID := c.Param("id")
	raw := c.Query("seat_ids")
	if raw == "" {
		response.BadRequest(c, "seat_ids query parameter is required")
		return
	}
	seatIDs := strings.Split(raw, ",")

	seats, err := h.inventory.CheckAvailability(c.Request.Context(), eventID, seatIDs)
	if err != nil {
		if errors.Is(err, domain.ErrSeatNotFound) {
			response.NotFound(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, &dto.AvailabilityResponse{EventID: eventID, Seats: seats})
}

// Publish handles POST /api/v1/events/:id/publish
func (h *EventHandler) Publish(c *gin.Context) {
	if err := h.events.Publish(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			response.NotFound(c, "event not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"status": "PUBLISHED"})
}
