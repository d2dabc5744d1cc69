package api

import (
	"errors"
	"net/http"

	"github.com/example/ec-stock-reservation/internal/api/middleware"
	"github.com/example/ec-stock-reservation/internal/command"
	"github.com/example/ec-stock-reservation/internal/domain/order"
	"github.com/example/ec-stock-reservation/internal/event"
	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
	"github.com/example/ec-stock-reservation/internal/query"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const CorrelationHeader = "X-Correlation-Id"

type Handlers struct {
	l            *zap.Logger
	cmdHandler   *command.Handler
	queryHandler *query.Handler
}

func NewHandlers(l *zap.Logger, cmdHandler *command.Handler, queryHandler *query.Handler) *Handlers {
	return &Handlers{
		l:            l.Named("api"),
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
	}
}

type placeOrderItem struct {
	SKU      string `json:"sku" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1,max=2147483647"`
}

type placeOrderRequest struct {
	CustomerID string           `json:"customerId"`
	Items      []placeOrderItem `json:"items" binding:"required,min=1,dive"`
}

type placeOrderResponse struct {
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	CorrelationID string `json:"correlationId"`
}

// Order Handlers

func (h *Handlers) PlaceOrder(c *gin.Context) {
	correlationID := c.GetHeader(CorrelationHeader)
	if correlationID != "" {
		if _, err := uuid.Parse(correlationID); err != nil {
			respondError(c, http.StatusBadRequest, CorrelationHeader+" must be a UUID")
			return
		}
	}

	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	customerID := req.CustomerID
	if authenticated := middleware.GetCustomerID(c); authenticated != "" {
		if customerID != "" && customerID != authenticated {
			respondError(c, http.StatusForbidden, "customerId does not match the authenticated customer")
			return
		}
		customerID = authenticated
	}

	items := make([]event.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, event.OrderItem{SKU: item.SKU, Quantity: item.Quantity})
	}

	placed, err := h.cmdHandler.PlaceOrder(c.Request.Context(), command.PlaceOrder{
		CustomerID:    customerID,
		Items:         items,
		CorrelationID: correlationID,
	})
	if err != nil {
		if isInvalidOrder(err) {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		h.l.Error("Failed to place order", zap.Error(err))
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "failed to place order")
		return
	}

	c.Header(CorrelationHeader, placed.CorrelationID)
	c.JSON(http.StatusCreated, placeOrderResponse{
		OrderID:       placed.Order.ID,
		Status:        placed.Order.Status,
		CorrelationID: placed.CorrelationID,
	})
}

func (h *Handlers) GetOrder(c *gin.Context) {
	o, err := h.queryHandler.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			respondError(c, http.StatusNotFound, "order not found")
			return
		}
		h.l.Error("Failed to load order", zap.String("order_id", c.Param("id")), zap.Error(err))
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "failed to load order")
		return
	}

	if customerID := middleware.GetCustomerID(c); customerID != "" && customerID != o.CustomerID {
		respondError(c, http.StatusForbidden, "forbidden")
		return
	}

	c.JSON(http.StatusOK, o)
}

// Health

func (h *Handlers) Health(c *gin.Context) {
	health, err := h.queryHandler.Health(c.Request.Context())
	if err != nil {
		h.l.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	c.JSON(http.StatusOK, health)
}

// Helper functions

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func isInvalidOrder(err error) bool {
	return errors.Is(err, order.ErrEmptyOrder) ||
		errors.Is(err, order.ErrInvalidItem) ||
		errors.Is(err, order.ErrMissingCustomer)
}
