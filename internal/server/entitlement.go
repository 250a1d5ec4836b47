package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResolveEntitlements lists what a customer may use right now. A customer
// without subscriptions gets an empty list.
func (s *Server) ResolveEntitlements(c *gin.Context) {
	resp, err := s.entitlementSvc.ResolveEntitlements(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CheckEntitlement(c *gin.Context) {
	resp, err := s.entitlementSvc.Check(c.Request.Context(), c.Param("id"), c.Param("feature"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
