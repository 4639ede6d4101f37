package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tally/internal/identityctx"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	usagedomain "github.com/smallbiznis/tally/internal/usage/domain"
)

func (s *Server) GetBalance(c *gin.Context) {
	id, ok := identityctx.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	snapshot, err := s.ledgerSvc.Balance(c.Request.Context(), id.AccountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"balance":   snapshot.Balance,
		"lifetime":  snapshot.Lifetime,
		"updatedAt": snapshot.UpdatedAt,
	})
}

func (s *Server) GetUsage(c *gin.Context) {
	id, ok := identityctx.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit := usagedomain.MaxPeriods
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, usagedomain.ErrInvalidLimit)
			return
		}
		limit = parsed
	}

	summary, err := s.usageSvc.Summary(c.Request.Context(), id.AccountID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"totalsByProduct": summary.TotalsByProduct,
		"totalCredits":    summary.TotalCredits,
		"usagePeriods":    summary.UsagePeriods,
	})
}

func (s *Server) GetHistory(c *gin.Context) {
	id, ok := identityctx.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	history, err := s.ledgerSvc.History(c.Request.Context(), id.AccountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"entries": history.Entries,
		"records": history.Records,
	})
}

type consumeRequest struct {
	ProductID string `json:"productId"`
	Cost      int64  `json:"cost"`
}

func (s *Server) ConsumeCredits(c *gin.Context) {
	id, ok := identityctx.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.ledgerSvc.Consume(c.Request.Context(), ledgerdomain.ConsumeRequest{
		AccountID:   id.AccountID,
		ProductID:   strings.TrimSpace(req.ProductID),
		ClaimedCost: req.Cost,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"productId":    result.ProductID,
		"creditsSpent": result.CreditsSpent,
	})
}

type grantRequest struct {
	AccountID string `json:"accountId"`
	Amount    int64  `json:"amount"`
}

func (s *Server) GrantCredits(c *gin.Context) {
	id, ok := identityctx.FromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	// The amount is a signed delta. Positive amounts are grants; anything
	// else goes through the adjustment path, which enforces the
	// negative-balance policy and rejects a zero delta.
	var snapshot *ledgerdomain.BalanceSnapshot
	var err error
	if req.Amount > 0 {
		snapshot, err = s.ledgerSvc.Grant(c.Request.Context(), ledgerdomain.GrantRequest{
			AccountID:   strings.TrimSpace(req.AccountID),
			Amount:      req.Amount,
			Reason:      ledgerdomain.ReasonGrant,
			PerformedBy: ledgerdomain.PerformerAdmin,
			ActorID:     id.AccountID,
		})
	} else {
		snapshot, err = s.ledgerSvc.AdminAdjust(c.Request.Context(), ledgerdomain.AdjustRequest{
			AccountID: strings.TrimSpace(req.AccountID),
			Delta:     req.Amount,
			ActorID:   id.AccountID,
		})
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"balance":  snapshot.Balance,
		"lifetime": snapshot.Lifetime,
	})
}
