package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/entitlements/internal/usage/domain"
)

func (s *Server) RecordUsage(c *gin.Context) {
	var req usagedomain.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.usageSvc.RecordUsage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAtRiskCustomers(c *gin.Context) {
	threshold, err := parseOptionalFloat(c.Query("threshold"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	// Zero falls back to the policy default.
	var value float64
	if threshold != nil {
		value = *threshold
	}

	resp, err := s.usageSvc.ListAtRisk(c.Request.Context(), value)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UsageByFeature(c *gin.Context) {
	resp, err := s.usageSvc.UsageByFeature(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
