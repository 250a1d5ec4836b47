package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListProductFeatures(c *gin.Context) {
	resp, err := s.productFeatureSvc.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
