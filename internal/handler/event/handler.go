package event

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/geomark/dispatch-api/internal/handler"
	"github.com/geomark/dispatch-api/internal/registry"
	"github.com/geomark/dispatch-api/internal/service/dispatch"
)

// Handler is the producer edge: the event service calls it after an event is
// stored, and it returns as soon as the delivery rows are written. Delivery
// outcomes never surface here.
type Handler struct {
	registry   *registry.Client
	dispatcher *dispatch.Dispatcher
}

func NewHandler(registry *registry.Client, dispatcher *dispatch.Dispatcher) *Handler {
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/events", h.IngestEvent)
}

type ingestRequest struct {
	EventID   string          `json:"event_id" binding:"omitempty,uuid"`
	SourceID  string          `json:"source_id" binding:"required,uuid"`
	EventType string          `json:"event_type" binding:"required"`
	Payload   json.RawMessage `json:"payload" binding:"required"`
}

func (h *Handler) IngestEvent(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	sourceID := uuid.MustParse(req.SourceID)
	endpoints, err := h.registry.EnabledForSource(c.Request.Context(), sourceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	if len(endpoints) == 0 {
		c.JSON(http.StatusAccepted, handler.NewListResponse([]uuid.UUID{}, 0))
		return
	}

	ev := dispatch.Event{
		Type:    req.EventType,
		Payload: req.Payload,
	}
	if req.EventID != "" {
		ev.ID = uuid.MustParse(req.EventID)
	}

	webhookIDs := make([]uuid.UUID, len(endpoints))
	for i, ep := range endpoints {
		webhookIDs[i] = ep.ID
	}

	deliveryIDs := h.dispatcher.Enqueue(c.Request.Context(), ev, webhookIDs)
	c.JSON(http.StatusAccepted, handler.NewListResponse(deliveryIDs, len(deliveryIDs)))
}
