package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/calder-ai/modelgate/pkg/api"
)

// Auth checks for a valid Bearer token in the Authorization header.
// Keys are compared by SHA-256 digest so raw keys never sit in a
// long-lived map.
func Auth(keys []string) gin.HandlerFunc {
	hashed := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		sum := sha256.Sum256([]byte(k))
		hashed[hex.EncodeToString(sum[:])] = true
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Missing Authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(c, "Invalid Authorization header format")
			return
		}

		sum := sha256.Sum256([]byte(parts[1]))
		if !hashed[hex.EncodeToString(sum[:])] {
			unauthorized(c, "Invalid API key")
			return
		}

		c.Next()
	}
}

func unauthorized(c *gin.Context, detail string) {
	problem := api.NewProblem(http.StatusUnauthorized, "Unauthorized", detail)
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(http.StatusUnauthorized, problem)
}
