package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/amishk599/leadflow/internal/delivery"
	"github.com/amishk599/leadflow/internal/model"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	JobID string `json:"jobId,omitempty"`
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
}

func abortNotFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: model.ErrNotFound.Error()})
}

// abortWithError maps domain errors to HTTP statuses. Anything unrecognized is
// logged and reported as a 500 without detail.
func (s *Server) abortWithError(c *gin.Context, err error) {
	var (
		validation    *model.ValidationError
		notConfigured *model.NotConfiguredError
		providerErr   *model.ProviderError
	)
	switch {
	case errors.As(err, &validation):
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: validation.Message, Field: validation.Field})
	case errors.As(err, &notConfigured):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse{Error: notConfigured.Error()})
	case errors.Is(err, model.ErrNotFound):
		abortNotFound(c)
	case errors.Is(err, model.ErrStaleState), errors.Is(err, model.ErrQualificationLocked):
		c.AbortWithStatusJSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, delivery.ErrBadSecret):
		abortUnauthorized(c)
	case errors.As(err, &providerErr):
		c.AbortWithStatusJSON(http.StatusBadGateway, errorResponse{Error: model.Redact(providerErr.Error())})
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", model.Redact(err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
