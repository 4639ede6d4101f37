package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tally/internal/identityctx"
	"github.com/smallbiznis/tally/internal/ratelimit"
)

const bearerPrefix = "Bearer "

// AuthRequired verifies the bearer token and stores the caller identity in
// the request context. Handlers read it back through identityctx.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		id, err := s.verifier.Verify(c.Request.Context(), strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Request = c.Request.WithContext(identityctx.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// AdminRequired gates the operator endpoints on the admin claim.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identityctx.FromContext(c.Request.Context())
		if !ok || !id.Admin {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// RateLimited applies the fixed-window quota for one named operation using
// the authenticated account as the key.
func (s *Server) RateLimited(operation string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identityctx.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		allowed, err := s.limiter.Allow(c.Request.Context(), id.AccountID, operation)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !allowed {
			s.obsMetrics.RecordRateLimit(operation, "denied")
			AbortWithError(c, ratelimit.ErrRateLimited)
			return
		}
		s.obsMetrics.RecordRateLimit(operation, "allowed")
		c.Next()
	}
}
