package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/traderx-trade-processor/internal/models"
)

var tickerPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9.\-]{0,14}$`)

// RegisterValidators adds the "side" and "ticker" tags to gin's validator
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	if err := v.RegisterValidation("side", validateSide); err != nil {
		return err
	}
	return v.RegisterValidation("ticker", validateTicker)
}

func validateSide(fl validator.FieldLevel) bool {
	_, ok := models.ParseTradeSide(fl.Field().String())
	return ok
}

func validateTicker(fl validator.FieldLevel) bool {
	return tickerPattern.MatchString(fl.Field().String())
}
