package handler

import (
	"errors"
	"net/http"

	"github.com/equiptrack/station/internal/domain/equipment"
	"github.com/equiptrack/station/internal/interfaces/http/dto"
	"github.com/equiptrack/station/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader("X-Request-ID")
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with an explicit status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// BindError translates a request binding failure. Validator errors get a
// per-field breakdown, everything else a plain bad request.
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		middleware.HandleValidationError(c, err)
		return
	}
	h.BadRequest(c, err.Error())
}

// DomainError translates an application-layer error into the response
// envelope, mapping domain error codes to their HTTP status.
func (h *BaseHandler) DomainError(c *gin.Context, err error) {
	var de *equipment.DomainError
	if errors.As(err, &de) {
		h.Error(c, dto.GetHTTPStatus(de.Code), de.Code, de.Message)
		return
	}
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, err.Error())
}
