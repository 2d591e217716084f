package handler

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/vending/internal/core/service"
)

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Errors  any    `json:"errors"`
}

type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
}

type StockError struct {
	Available int `json:"available"`
	Requested int `json:"requested"`
}

func writeSuccess(c echo.Context, code int, message string, data any) error {
	return c.JSON(code, SuccessResponse{
		Status:  "success",
		Message: message,
		Data:    data,
	})
}

func writeFailure(c echo.Context, code int, message string, details any) error {
	return c.JSON(code, ErrorResponse{
		Status:  "error",
		Message: message,
		Errors:  details,
	})
}

// writeError maps service errors onto HTTP statuses. Anything unrecognised is
// logged and reported as a bare internal error.
func writeError(c echo.Context, err error) error {
	var (
		stockErr   *service.InsufficientStockError
		validation validator.ValidationErrors
	)
	switch {
	case errors.As(err, &validation):
		details := make([]ValidationError, 0, len(validation))
		for _, fe := range validation {
			details = append(details, ValidationError{Field: fe.Field(), Tag: fe.Tag()})
		}
		return writeFailure(c, http.StatusBadRequest, "invalid request", details)
	case errors.As(err, &stockErr):
		return writeFailure(c, http.StatusBadRequest, "not enough stock",
			StockError{Available: stockErr.Available, Requested: stockErr.Requested})
	case errors.Is(err, service.ErrInvalidInput):
		return writeFailure(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, service.ErrNotFound):
		return writeFailure(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrUserExists):
		return writeFailure(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		return writeFailure(c, http.StatusUnauthorized, "invalid credentials", nil)
	}

	log.Ctx(c.Request().Context()).Error().Err(err).Str("component", "writeError").
		Str("endpoint", c.Path()).Msg("request failed")
	return writeFailure(c, http.StatusInternalServerError, "internal error", nil)
}
