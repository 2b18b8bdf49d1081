package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMonitoringService(t *testing.T) {
	t.Run("Should create a disabled service when config is nil", func(t *testing.T) {
		s, err := NewMonitoringService(t.Context(), nil)
		require.NoError(t, err)
		assert.False(t, s.IsInitialized())
		assert.NotNil(t, s.Meter())
		assert.NotNil(t, s.Engine())
		assert.Equal(t, "/metrics", s.Path())
	})
	t.Run("Should fail with invalid config", func(t *testing.T) {
		s, err := NewMonitoringService(t.Context(), &Config{Enabled: true})
		assert.Nil(t, s)
		assert.ErrorContains(t, err, "monitoring path cannot be empty")
	})
	t.Run("Should fall back to no-op on invalid config", func(t *testing.T) {
		s := NewMonitoringServiceWithFallback(t.Context(), &Config{Enabled: true})
		assert.False(t, s.IsInitialized())
		assert.Error(t, s.InitializationError())
	})
}

func TestService_ExporterHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Should expose engine and HTTP metrics when enabled", func(t *testing.T) {
		ResetSystemMetricsForTesting()
		t.Cleanup(ResetSystemMetricsForTesting)
		s, err := NewMonitoringService(t.Context(), &Config{Enabled: true, Path: "/metrics"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Shutdown(t.Context()) })
		s.Engine().RecordTick(t.Context(), TickStats{Processed: 1, Completed: 1}, 0, nil)

		router := gin.New()
		router.Use(s.GinMiddleware())
		router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		router.GET(s.Path(), gin.WrapH(s.ExporterHandler()))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", http.NoBody))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Contains(t, body, "autoflow_queue_entries")
		assert.Contains(t, body, "autoflow_processor_ticks")
		assert.Contains(t, body, "autoflow_build_info")
	})

	t.Run("Should return 503 when disabled", func(t *testing.T) {
		s, err := NewMonitoringService(t.Context(), DefaultConfig())
		require.NoError(t, err)
		w := httptest.NewRecorder()
		s.ExporterHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
