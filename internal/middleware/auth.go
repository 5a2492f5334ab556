package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hemolink/donor-api/pkg/auth"
)

const contextDonorID = "donor_id"

// Auth validates the bearer token and stores the donor identity on the
// context.
func Auth(jwtSvc auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "missing authorization header",
			})
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "invalid authorization header",
			})
			return
		}

		claims, err := jwtSvc.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "invalid or expired token",
			})
			return
		}

		c.Set(contextDonorID, claims.DonorID)
		c.Next()
	}
}

// DonorID returns the authenticated donor's id from the context.
func DonorID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(contextDonorID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
