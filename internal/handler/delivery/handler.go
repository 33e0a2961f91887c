package delivery

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/geomark/dispatch-api/internal/handler"
	"github.com/geomark/dispatch-api/internal/model"
	"github.com/geomark/dispatch-api/internal/repository"
)

// Handler is the read-only operator surface over delivery rows. Delivery
// state is only ever mutated by the dispatch executor.
type Handler struct {
	deliveries repository.DeliveryRepository
}

func NewHandler(deliveries repository.DeliveryRepository) *Handler {
	return &Handler{deliveries: deliveries}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	deliveries := r.Group("/deliveries")
	{
		deliveries.GET("", h.ListDeliveries)
		deliveries.GET("/:id", h.GetDelivery)
	}
	r.GET("/webhooks/:id/deliveries", h.ListWebhookDeliveries)
}

type listQuery struct {
	WebhookID string `form:"webhook_id" binding:"omitempty,uuid"`
	Status    string `form:"status" binding:"omitempty,deliverystatus"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

func (q listQuery) filter() repository.DeliveryFilter {
	filter := repository.DeliveryFilter{Limit: q.Limit}
	if q.WebhookID != "" {
		id := uuid.MustParse(q.WebhookID)
		filter.WebhookID = &id
	}
	if q.Status != "" {
		status := model.DeliveryStatus(q.Status)
		filter.Status = &status
	}
	return filter
}

func (h *Handler) ListDeliveries(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	deliveries, err := h.deliveries.List(c.Request.Context(), q.filter())
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewListResponse(deliveries, len(deliveries)))
}

func (h *Handler) GetDelivery(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid delivery ID"))
		return
	}

	d, err := h.deliveries.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, handler.NewErrorResponse("delivery not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(d))
}

func (h *Handler) ListWebhookDeliveries(c *gin.Context) {
	webhookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid webhook ID"))
		return
	}

	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	filter := q.filter()
	filter.WebhookID = &webhookID

	deliveries, err := h.deliveries.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewListResponse(deliveries, len(deliveries)))
}
