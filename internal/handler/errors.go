package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/traderx-trade-processor/internal/repository"
	"github.com/traderx-trade-processor/internal/service"
	"github.com/traderx-trade-processor/pkg/response"
)

// handleError maps service and repository errors to HTTP responses
func handleError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, service.ErrDuplicateOrderID):
		response.Error(c, http.StatusConflict, response.CodeDuplicateOrder, err.Error())
	case errors.Is(err, service.ErrInvalidOrder):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidOrder, err.Error())
	case errors.Is(err, service.ErrLookupUnavailable):
		response.ServiceUnavailable(c, response.CodeLookupUnavailable, err.Error())
	case errors.Is(err, service.ErrUnknownSecurity):
		response.Error(c, http.StatusNotFound, response.CodeUnknownSecurity, err.Error())
	case errors.Is(err, service.ErrUnknownAccount):
		response.Error(c, http.StatusNotFound, response.CodeUnknownAccount, err.Error())
	case errors.Is(err, service.ErrStorageFailure):
		response.ServiceUnavailable(c, response.CodeStorageUnavailable, "storage unavailable, retry later")
	case errors.Is(err, repository.ErrTradeNotFound):
		response.NotFound(c, "trade not found")
	case errors.Is(err, repository.ErrPositionNotFound):
		response.NotFound(c, "position not found")
	default:
		response.InternalError(c, "internal error")
	}
}
