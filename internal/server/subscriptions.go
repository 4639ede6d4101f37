package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
)

type createSubscriptionRequest struct {
	SubscriptionID string   `json:"subscriptionId"`
	AccountID      string   `json:"accountId"`
	Provider       string   `json:"provider"`
	LinkedProducts []string `json:"linkedProducts"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	subscription, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateSubscriptionRequest{
		SubscriptionID: strings.TrimSpace(req.SubscriptionID),
		AccountID:      strings.TrimSpace(req.AccountID),
		Provider:       strings.TrimSpace(req.Provider),
		LinkedProducts: req.LinkedProducts,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":        true,
		"subscriptionId": subscription.ID,
		"status":         string(subscription.Status),
	})
}

func (s *Server) GetSubscription(c *gin.Context) {
	subscription, err := s.subscriptionSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"subscriptionId":     subscription.ID,
		"accountId":          subscription.AccountID,
		"status":             string(subscription.Status),
		"currentPeriodStart": subscription.CurrentPeriodStart,
		"currentPeriodEnd":   subscription.CurrentPeriodEnd,
	})
}
