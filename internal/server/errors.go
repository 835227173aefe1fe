package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	eventdomain "github.com/smallbiznis/referrals/internal/eventlog/domain"
	"github.com/smallbiznis/referrals/internal/jobqueue"
	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	restaurantdomain "github.com/smallbiznis/referrals/internal/restaurant/domain"
	rewarddomain "github.com/smallbiznis/referrals/internal/reward/domain"
	scoringdomain "github.com/smallbiznis/referrals/internal/scoring/domain"
	"github.com/smallbiznis/referrals/pkg/db"
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

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// validationErrors are the domain errors a caller can fix by changing the
// request. The field reported to clients is derived from the code.
var validationErrors = []error{
	ErrInvalidRequest,
	codedomain.ErrInvalidUser,
	codedomain.ErrInvalidCode,
	codedomain.ErrInvalidID,
	codedomain.ErrCodeExpired,
	codedomain.ErrCodeExhausted,
	codedomain.ErrSelfReferral,
	codedomain.ErrAlreadyReferred,
	referraldomain.ErrInvalidID,
	referraldomain.ErrInvalidStatus,
	referraldomain.ErrInvalidTransition,
	referraldomain.ErrInvalidSignal,
	referraldomain.ErrEmptyUpdate,
	restaurantdomain.ErrInvalidOwner,
	restaurantdomain.ErrInvalidName,
	restaurantdomain.ErrInvalidNumLocations,
	restaurantdomain.ErrInvalidDeliveryPct,
	restaurantdomain.ErrInvalidEmail,
	restaurantdomain.ErrInvalidWhatsapp,
	rewarddomain.ErrInvalidID,
	rewarddomain.ErrInvalidUser,
	rewarddomain.ErrInvalidFilter,
	rewarddomain.ErrNotQualified,
	rewarddomain.ErrAlreadyRedeemed,
	rewarddomain.ErrNotIssued,
	rewarddomain.ErrExpired,
	scoringdomain.ErrInvalidID,
	eventdomain.ErrInvalidReferral,
	eventdomain.ErrInvalidEventType,
}

var notFoundErrors = []error{
	ErrNotFound,
	codedomain.ErrNotFound,
	referraldomain.ErrNotFound,
	rewarddomain.ErrNotFound,
	rewarddomain.ErrReferralNotFound,
	scoringdomain.ErrNotFound,
	gorm.ErrRecordNotFound,
}

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

	if sentinel := matchSentinel(err, validationErrors); sentinel != nil {
		code := sentinel.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(err, code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, rewarddomain.ErrNotBeneficiary):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict), db.IsDuplicateKeyErr(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case matchSentinel(err, notFoundErrors) != nil:
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, jobqueue.ErrQueueNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog reports the response class and code without the error
// message, which may carry contact data.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError {
		return "internal_error", code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func matchSentinel(err error, sentinels []error) error {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_transition":
		return "status"
	case "code_expired", "code_exhausted", "self_referral", "already_referred":
		return "referral_code"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

// validationErrorMessage surfaces the detail of a wrapped sentinel, such as
// the allowed transitions.
func validationErrorMessage(err error, code string) string {
	if msg := err.Error(); msg != code {
		if detail := strings.TrimPrefix(msg, code+": "); detail != msg {
			return detail
		}
	}
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
