package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/tally/internal/account/domain"
	"github.com/smallbiznis/tally/internal/identity"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	"github.com/smallbiznis/tally/internal/product"
	"github.com/smallbiznis/tally/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/tally/internal/usage/domain"
	webhookdomain "github.com/smallbiznis/tally/internal/webhook/domain"
	"gorm.io/gorm"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid_argument")
)

// ErrorHandlingMiddleware renders the last recorded error once the handler
// chain finishes. Reason strings are stable; internals never leak.
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

		status, reason := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, gin.H{
			"success": false,
			"error":   reason,
		})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, identity.ErrMissingToken),
		errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, accountdomain.ErrSuspended):
		return http.StatusForbidden, "account_suspended"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return http.StatusBadRequest, "insufficient_balance"
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrCostMismatch),
		errors.Is(err, ledgerdomain.ErrNegativeBalance),
		errors.Is(err, product.ErrUnknownProduct),
		errors.Is(err, accountdomain.ErrInvalidAccount),
		errors.Is(err, usagedomain.ErrInvalidLimit),
		errors.Is(err, subscriptiondomain.ErrInvalidRequest),
		errors.Is(err, subscriptiondomain.ErrInvalidTransition),
		errors.Is(err, webhookdomain.ErrInvalidEvent):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, accountdomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, accountdomain.ErrAlreadyExists),
		errors.Is(err, subscriptiondomain.ErrAlreadyExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
