package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/traderx-trade-processor/internal/repository"
	"github.com/traderx-trade-processor/internal/service"
	"github.com/traderx-trade-processor/pkg/response"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LedgerHandler serves trades and positions
type LedgerHandler struct {
	ledger *service.LedgerService
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(ledger *service.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// ListTrades lists trades newest first
// GET /api/v1/trades?account_id=&security=&page=&page_size=
func (h *LedgerHandler) ListTrades(c *gin.Context) {
	filter, err := tradeFilter(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if raw := c.Query("account_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			response.BadRequest(c, "invalid account_id")
			return
		}
		filter.AccountID = &id
	}
	h.listTrades(c, filter)
}

// ListAccountTrades lists the trades of one account
// GET /api/v1/accounts/:account_id/trades
func (h *LedgerHandler) ListAccountTrades(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}
	filter, err := tradeFilter(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	filter.AccountID = &accountID
	h.listTrades(c, filter)
}

func (h *LedgerHandler) listTrades(c *gin.Context, filter repository.TradeFilter) {
	trades, total, err := h.ledger.ListTrades(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	response.SuccessPaginated(c, trades, total, filter.Page, filter.PageSize)
}

// GetTrade returns one trade
// GET /api/v1/trades/:id
func (h *LedgerHandler) GetTrade(c *gin.Context) {
	trade, err := h.ledger.GetTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, trade)
}

// ListPositions returns every position of an account
// GET /api/v1/accounts/:account_id/positions
func (h *LedgerHandler) ListPositions(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}
	positions, err := h.ledger.ListPositions(c.Request.Context(), accountID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, positions)
}

// GetPosition returns the position of an account in one security
// GET /api/v1/accounts/:account_id/positions/:security
func (h *LedgerHandler) GetPosition(c *gin.Context) {
	accountID, ok := accountParam(c)
	if !ok {
		return
	}
	position, err := h.ledger.GetPosition(c.Request.Context(), accountID, c.Param("security"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, position)
}

// RegisterRoutes registers trade and position routes
func (h *LedgerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	trades := rg.Group("/trades")
	{
		trades.GET("", h.ListTrades)
		trades.GET("/:id", h.GetTrade)
	}

	accounts := rg.Group("/accounts/:account_id")
	{
		accounts.GET("/trades", h.ListAccountTrades)
		accounts.GET("/positions", h.ListPositions)
		accounts.GET("/positions/:security", h.GetPosition)
	}
}

func accountParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("account_id"))
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid account id")
		return 0, false
	}
	return id, true
}

func tradeFilter(c *gin.Context) (repository.TradeFilter, error) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		return repository.TradeFilter{}, errors.New("invalid page")
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if err != nil || pageSize < 1 {
		return repository.TradeFilter{}, errors.New("invalid page_size")
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return repository.TradeFilter{
		Security: c.Query("security"),
		Page:     page,
		PageSize: pageSize,
	}, nil
}
