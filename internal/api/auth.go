package api

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

const contextOrgIDKey = "organization_id"

type orgKey struct {
	orgID int64
	key   []byte
}

// APIKeyRequired resolves the bearer token to an organization. Every
// configured key is compared so timing does not reveal which prefix matched.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.Fields(c.GetHeader("Authorization"))
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c)
			return
		}
		token := []byte(parts[1])

		var orgID int64
		found := false
		for _, k := range s.keys {
			if subtle.ConstantTimeCompare(token, k.key) == 1 {
				orgID = k.orgID
				found = true
			}
		}
		if !found {
			abortUnauthorized(c)
			return
		}

		c.Set(contextOrgIDKey, orgID)
		c.Next()
	}
}

func organizationID(c *gin.Context) int64 {
	return c.GetInt64(contextOrgIDKey)
}
