package api

import (
	"bytes"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanjeevkumarraob/invoice-extractor/internal/auth"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/session"
)

func newLoggedRouter(t *testing.T, logs *bytes.Buffer) (*gin.Engine, *auth.JWTManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := log.New(logs, "", 0)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	sessionManager := session.NewSessionManager(logger, session.NewCookieStore("session-secret"), false)

	router := gin.New()
	router.Use(LoggerMiddleware(logger))
	router.GET("/whoami", CallerMiddleware(jwtManager, sessionManager, logger), func(c *gin.Context) {
		c.String(http.StatusOK, CallerFrom(c))
	})
	return router, jwtManager
}

func TestLoggerMiddleware_CallerSource(t *testing.T) {
	var logs bytes.Buffer
	router, jwtManager := newLoggedRouter(t, &logs)

	token, err := jwtManager.GenerateToken("acme-ap")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acme-ap", w.Body.String())
	assert.Contains(t, logs.String(), "| acme-ap (token) |")

	logs.Reset()
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, logs.String(), w.Body.String()+" (session) |")
	assert.Contains(t, w.Body.String(), "visitor:")
}
