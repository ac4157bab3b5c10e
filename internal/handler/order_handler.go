package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/traderx-trade-processor/internal/models"
	"github.com/traderx-trade-processor/pkg/response"
)

// OrderProcessor is the booking operation the handler needs
type OrderProcessor interface {
	ProcessOrder(ctx context.Context, order models.TradeOrder) (*models.TradeBookingResult, error)
}

// OrderHandler accepts trade orders
type OrderHandler struct {
	processor OrderProcessor
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(processor OrderProcessor) *OrderHandler {
	return &OrderHandler{processor: processor}
}

type orderRequest struct {
	ID        string `json:"id" binding:"max=50"`
	AccountID int    `json:"accountId" binding:"required,gt=0"`
	Security  string `json:"security" binding:"required,ticker"`
	Side      string `json:"side" binding:"required,side"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

// SubmitOrder books an order and returns the settled trade and position
// POST /api/v1/orders
func (h *OrderHandler) SubmitOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeInvalidOrder, err.Error())
		return
	}

	side, _ := models.ParseTradeSide(req.Side)
	result, err := h.processor.ProcessOrder(c.Request.Context(), models.TradeOrder{
		ID:        req.ID,
		AccountID: req.AccountID,
		Security:  req.Security,
		Side:      side,
		Quantity:  req.Quantity,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	response.Success(c, result)
}

// RegisterRoutes registers order routes
func (h *OrderHandler) RegisterRoutes(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	rg.POST("/orders", append(mw, h.SubmitOrder)...)
}

// RegisterLegacyRoutes keeps the path the TraderX trade service posts to
func (h *OrderHandler) RegisterLegacyRoutes(r gin.IRouter, mw ...gin.HandlerFunc) {
	r.POST("/tradeservice/order", append(mw, h.SubmitOrder)...)
}
