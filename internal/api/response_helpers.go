// internal/api/response_helpers.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/participadf/ouvidoria/internal/errors"
	"github.com/participadf/ouvidoria/internal/utils"
)

// APIResponse is the envelope used for error replies.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError is the error body inside the envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Resource names used to pick resource specific error codes.
const (
	resourceManifestation = "manifestation"
	resourceFile          = "file"
	resourceGenerator     = "generator"
)

// retryAfterSeconds is advertised on 503 replies.
const retryAfterSeconds = "10"

// ResponseHelper writes API replies.
type ResponseHelper struct {
	logger *utils.Logger
}

// NewResponseHelper creates a response helper.
func NewResponseHelper(logger *utils.Logger) *ResponseHelper {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &ResponseHelper{logger: logger}
}

// OK writes data as-is with 200.
func (rh *ResponseHelper) OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created writes data as-is with 201.
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// sanitizeErrorMessage hides messages that look like they carry credentials.
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "x-api-key", "secret", "bearer ", "password"} {
		if strings.Contains(lower, pattern) {
			return "Ocorreu um erro interno."
		}
	}
	return message
}

// Error writes the error envelope and aborts the chain.
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}
	if len(details) > 0 && details[0] != "" {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	c.AbortWithStatusJSON(statusCode, &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now().UTC(),
		RequestID: rh.getRequestID(c),
	})
}

// BadRequest 400
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound 404
func (rh *ResponseHelper) NotFound(c *gin.Context, resource, message string) {
	rh.Error(c, http.StatusNotFound, rh.getResourceNotFoundCode(resource), message)
}

// InternalError 500
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// TooLarge 413
func (rh *ResponseHelper) TooLarge(c *gin.Context, message string) {
	rh.Error(c, http.StatusRequestEntityTooLarge, ErrorPayloadTooLarge, message)
}

// Unavailable 503 with Retry-After.
func (rh *ResponseHelper) Unavailable(c *gin.Context, code, message string) {
	c.Header("Retry-After", retryAfterSeconds)
	rh.Error(c, http.StatusServiceUnavailable, code, message)
}

// FromError maps a service error onto the envelope. Errors that are not AppErrors
// are logged and reported as a generic 500 so internals never reach the client.
func (rh *ResponseHelper) FromError(c *gin.Context, err error, resource string) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		rh.logger.Error("unhandled error", map[string]interface{}{
			"path":       c.Request.URL.Path,
			"request_id": rh.getRequestID(c),
			"error":      err.Error(),
		})
		rh.InternalError(c, "Erro interno ao processar a solicitação.")
		return
	}

	code := appErr.Code
	switch appErr.Type {
	case apperrors.ErrorTypeNotFound:
		code = rh.getResourceNotFoundCode(resource)
	case apperrors.ErrorTypeUnavailable:
		if resource == resourceGenerator {
			code = ErrorGeneratorUnavailable
		}
		rh.Unavailable(c, code, appErr.Message)
		return
	case apperrors.ErrorTypeUpstream:
		if resource == resourceGenerator {
			code = ErrorGeneratorUpstream
		}
	case apperrors.ErrorTypeError:
		rh.logger.Error("request failed", map[string]interface{}{
			"path":       c.Request.URL.Path,
			"request_id": rh.getRequestID(c),
			"error":      err.Error(),
		})
	}
	rh.Error(c, appErr.HTTPStatus(), code, appErr.Message)
}

func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func (rh *ResponseHelper) getResourceNotFoundCode(resource string) string {
	switch resource {
	case resourceManifestation:
		return ErrorManifestationNotFound
	case resourceFile:
		return ErrorFileNotFound
	default:
		return ErrorNotFound
	}
}
