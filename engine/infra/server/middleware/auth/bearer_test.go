package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(token, header string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/p", RequireBearer(token), func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodPost, "/p", http.NoBody)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireBearer(t *testing.T) {
	t.Run("Should accept the configured token", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve("s3cret", "Bearer s3cret").Code)
		assert.Equal(t, http.StatusOK, serve("s3cret", "bearer s3cret").Code)
	})
	t.Run("Should reject missing or wrong tokens", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve("s3cret", "").Code)
		assert.Equal(t, http.StatusUnauthorized, serve("s3cret", "Bearer nope").Code)
		assert.Equal(t, http.StatusUnauthorized, serve("s3cret", "Basic s3cret").Code)
		res := serve("s3cret", "Bearer ")
		assert.Equal(t, http.StatusUnauthorized, res.Code)
		assert.NotEmpty(t, res.Header().Get("WWW-Authenticate"))
	})
	t.Run("Should reject everything when no token is configured", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve("", "Bearer anything").Code)
	})
}
