package server

import (
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitlements/internal/orgcontext"
)

const HeaderOrg = "X-Org-ID"

// OrgContext scopes the request to the tenant named in X-Org-ID.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := orgcontext.ParseOrgID(c.GetHeader(HeaderOrg))
		if !ok {
			AbortWithError(c, ErrOrgRequired)
			return
		}
		c.Request = c.Request.WithContext(orgcontext.WithOrgID(c.Request.Context(), orgID))
		c.Next()
	}
}
