package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	negotiationdomain "github.com/tripdeal/bargain/internal/negotiation/domain"
	ratedomain "github.com/tripdeal/bargain/internal/ratecontext/domain"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

// errorPayload carries a stable machine-readable type and a human message.
// Cost and floor internals never appear here.
type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, negotiationdomain.ErrNeverLossViolation):
		return http.StatusConflict, errorPayload{
			Type:    "never_loss_violation",
			Message: "offer could not be processed",
		}
	case errors.Is(err, negotiationdomain.ErrInventoryChanged):
		return http.StatusConflict, errorPayload{
			Type:    "inventory_changed",
			Message: "the product is no longer available at the quoted price",
		}
	case errors.Is(err, negotiationdomain.ErrSessionClosed),
		errors.Is(err, sessiondomain.ErrSessionBusy),
		errors.Is(err, sessiondomain.ErrInvalidState):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, negotiationdomain.ErrSessionExpired):
		return http.StatusGone, errorPayload{
			Type:    "session_expired",
			Message: "this negotiation has expired",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ratedomain.ErrQuoteUnavailable),
		errors.Is(err, ratedomain.ErrInvalidQuote):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "pricing is temporarily unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, negotiationdomain.ErrInvalidBuyer),
		errors.Is(err, negotiationdomain.ErrInvalidProduct),
		errors.Is(err, negotiationdomain.ErrInvalidSessionID),
		errors.Is(err, negotiationdomain.ErrInvalidOffer),
		errors.Is(err, ratedomain.ErrInvalidProduct):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, sessiondomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

// classifyErrorForLog reports the mapped error type and code for request
// logging, without rendering a response.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
