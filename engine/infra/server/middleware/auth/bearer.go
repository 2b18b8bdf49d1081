package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/compozy/autoflow/pkg/logger"
	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

// RequireBearer rejects requests whose Authorization header does not carry
// token. An empty token rejects every request.
func RequireBearer(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, ok := extractBearerToken(c.GetHeader("Authorization"))
		if !ok || len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			logger.FromContext(c.Request.Context()).Debug("Authentication failed", "path", c.FullPath())
			c.Header("WWW-Authenticate", `Bearer realm="autoflow"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func extractBearerToken(header string) (string, bool) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}
