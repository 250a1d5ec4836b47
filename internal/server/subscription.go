package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/entitlements/internal/subscription/domain"
)

type transitionSubscriptionRequest struct {
	Status subscriptiondomain.SubscriptionStatus `json:"status"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req subscriptiondomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.subscriptionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	resp, err := s.subscriptionSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListCustomerSubscriptions(c *gin.Context) {
	resp, err := s.subscriptionSvc.ListByCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) TransitionSubscription(c *gin.Context) {
	var req transitionSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	target := subscriptiondomain.SubscriptionStatus(strings.ToLower(strings.TrimSpace(string(req.Status))))
	resp, err := s.subscriptionSvc.Transition(c.Request.Context(), c.Param("id"), target)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// CancelSubscription cancels at period end; access continues until then.
func (s *Server) CancelSubscription(c *gin.Context) {
	resp, err := s.subscriptionSvc.CancelAtPeriodEnd(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RenewSubscription(c *gin.Context) {
	resp, err := s.subscriptionSvc.Renew(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MigrateSubscription(c *gin.Context) {
	var req subscriptiondomain.MigrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.SubscriptionID = strings.TrimSpace(c.Param("id"))

	resp, err := s.subscriptionSvc.MigrateToVersion(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
