package logger_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdesk/civic-portal/backend/services/common/logger"
)

func TestInitializeWithWriter_TeesJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := logger.InitializeWithWriter("production", &buf)
	require.NoError(t, err)

	l.Info("status updated")
	_ = l.Sync()

	assert.Contains(t, buf.String(), `"msg":"status updated"`)
	assert.Contains(t, buf.String(), `"level":"info"`)
}

func TestRequestID_PropagatesHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(logger.RequestID())

	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = c.GetString(logger.RequestIDKey)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestFromContext_WithoutRequestID(t *testing.T) {
	l := logger.FromContext(context.Background(), nil)
	assert.NotNil(t, l)
}
