package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	productdomain "github.com/smallbiznis/entitlements/internal/product/domain"
	versioningdomain "github.com/smallbiznis/entitlements/internal/versioning/domain"
	"github.com/smallbiznis/entitlements/pkg/db/pagination"
)

func (s *Server) CreateProduct(c *gin.Context) {
	var req productdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.productSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListProducts(c *gin.Context) {
	var query struct {
		pagination.Pagination
		IncludeArchived   string `form:"include_archived"`
		IncludeSuperseded string `form:"include_superseded"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	includeArchived, err := parseBool(query.IncludeArchived)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	includeSuperseded, err := parseBool(query.IncludeSuperseded)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.productSvc.List(c.Request.Context(), productdomain.ListRequest{
		IncludeArchived:   includeArchived,
		IncludeSuperseded: includeSuperseded,
		Pagination:        query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Products, "page_info": resp.PageInfo})
}

func (s *Server) GetProductByID(c *gin.Context) {
	resp, err := s.productSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListProductVersions(c *gin.Context) {
	resp, err := s.productSvc.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeprecateProduct(c *gin.Context) {
	resp, err := s.productSvc.Deprecate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ProposeProductEdit(c *gin.Context) {
	var changes versioningdomain.ProductChanges
	if err := c.ShouldBindJSON(&changes); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.versioningSvc.ProposeEdit(c.Request.Context(), c.Param("id"), changes)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ApplyProductEdit retries once on a version conflict unless ?retry=false.
func (s *Server) ApplyProductEdit(c *gin.Context) {
	var req versioningdomain.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.ProductID = strings.TrimSpace(c.Param("id"))

	retry := true
	if parsed, err := parseOptionalBool(c.Query("retry")); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	} else if parsed != nil {
		retry = *parsed
	}

	apply := s.versioningSvc.ApplyEditWithRetry
	if !retry {
		apply = s.versioningSvc.ApplyEdit
	}
	resp, err := apply(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if resp.Versioned {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": resp})
}
