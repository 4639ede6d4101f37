package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/tally/internal/account/domain"
	"github.com/smallbiznis/tally/internal/identityctx"
)

type createAccountRequest struct {
	AccountID string `json:"accountId"`
	Email     string `json:"email"`
}

func (s *Server) CreateAccount(c *gin.Context) {
	id, _ := identityctx.FromContext(c.Request.Context())

	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		AbortWithError(c, accountdomain.ErrInvalidAccount)
		return
	}

	account, err := s.accountSvc.Create(c.Request.Context(), accountdomain.CreateAccountRequest{
		AccountID: strings.TrimSpace(req.AccountID),
		Email:     strings.TrimSpace(req.Email),
		ActorID:   id.AccountID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"accountId": account.ID,
	})
}

func (s *Server) SuspendAccount(c *gin.Context) {
	id, _ := identityctx.FromContext(c.Request.Context())

	if err := s.accountSvc.Suspend(c.Request.Context(), c.Param("id"), id.AccountID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) UnsuspendAccount(c *gin.Context) {
	id, _ := identityctx.FromContext(c.Request.Context())

	if err := s.accountSvc.Unsuspend(c.Request.Context(), c.Param("id"), id.AccountID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) DeleteAccount(c *gin.Context) {
	id, _ := identityctx.FromContext(c.Request.Context())

	if err := s.accountSvc.Delete(c.Request.Context(), c.Param("id"), id.AccountID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
