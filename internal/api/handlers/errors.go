package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"streamocr-worker-go/internal/logging"
	"streamocr-worker-go/internal/services/frames"
	"streamocr-worker-go/internal/services/processing"
	"streamocr-worker-go/internal/services/recognition"
	"streamocr-worker-go/internal/services/results"
	"streamocr-worker-go/internal/services/source"
)

type ErrorResponse struct {
	Error string `json:"error" example:"source not found: meter-1"`
}

type SuccessResponse struct {
	Message string `json:"message" example:"Source removed"`
}

// StatusCode maps a service error to its HTTP status
func StatusCode(err error) int {
	var recErr *recognition.Error
	switch {
	case errors.Is(err, source.ErrSourceNotFound), errors.Is(err, logging.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, source.ErrSourceExists):
		return http.StatusConflict
	case errors.Is(err, source.ErrInvalidConfig), errors.Is(err, results.ErrInvalidInput),
		errors.Is(err, recognition.ErrUnknownEngine):
		return http.StatusBadRequest
	case errors.Is(err, frames.ErrNoStream), errors.Is(err, frames.ErrNoConnection),
		errors.Is(err, frames.ErrDecode), errors.Is(err, frames.ErrTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, processing.ErrNoValidRegions), errors.Is(err, processing.ErrEmptyFrame):
		return http.StatusUnprocessableEntity
	case errors.As(err, &recErr), errors.Is(err, recognition.ErrTimeout), errors.Is(err, recognition.ErrBridgeClosed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error, msg string) {
	code := StatusCode(err)
	ev := logging.Warn(c)
	if code >= http.StatusInternalServerError {
		ev = logging.Error(c)
	}
	ev.Err(err).Int("status", code).Msg(msg)
	c.JSON(code, ErrorResponse{Error: err.Error()})
}
