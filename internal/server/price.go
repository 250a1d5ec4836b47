package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetPriceByID(c *gin.Context) {
	resp, err := s.priceSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListProductPrices(c *gin.Context) {
	resp, err := s.priceSvc.ListByProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
