package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sanjeevkumarraob/invoice-extractor/internal/auth"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/session"
)

// Context keys set by CallerMiddleware
const (
	CallerKey       = "caller"
	CallerSourceKey = "caller_source"
)

// Caller sources
const (
	SourceToken   = "token"
	SourceSession = "session"
)

// LoggerMiddleware creates a custom logging middleware
func LoggerMiddleware(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Start timer
		start := time.Now()
		path := c.Request.URL.Path

		// Process request
		c.Next()

		// Calculate response time
		latency := time.Since(start)

		// Log request details
		logger.Printf(
			"[%s] %s %s | %d | %s | %s (%s) | %s",
			c.ClientIP(),
			c.Request.Method,
			path,
			c.Writer.Status(),
			latency,
			c.GetString(CallerKey),
			c.GetString(CallerSourceKey),
			c.Errors.String(),
		)
	}
}

// CallerMiddleware resolves who is making the request. A bearer token must be
// valid and identifies an API caller; otherwise the browser session visitor is used.
func CallerMiddleware(jwtManager *auth.JWTManager, sessionManager *session.SessionManager, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header must be a bearer token"})
				return
			}

			claims, err := jwtManager.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				logger.Printf("Token validation failed: %v", err)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
				return
			}

			c.Set(CallerKey, claims.Caller())
			c.Set(CallerSourceKey, SourceToken)
			c.Next()
			return
		}

		visitor, err := sessionManager.VisitorID(c)
		if err != nil {
			// Unmetered routes still work without an identity
			logger.Printf("No visitor identity: %v", err)
			c.Next()
			return
		}

		c.Set(CallerKey, "visitor:"+visitor)
		c.Set(CallerSourceKey, SourceSession)
		c.Next()
	}
}

// CallerFrom returns the caller resolved by CallerMiddleware
func CallerFrom(c *gin.Context) string {
	return c.GetString(CallerKey)
}
