package api

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/sanjeevkumarraob/invoice-extractor/internal/auth"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/session"
)

// NewRouter sets up the API router
func NewRouter(
	handler *Handler,
	jwtManager *auth.JWTManager,
	sessionManager *session.SessionManager,
	logger *log.Logger,
) *gin.Engine {
	// Create gin router
	router := gin.New()

	// Set up middleware
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	// Set up CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.SetHTMLTemplate(Templates())

	// Public routes
	router.GET("/health", handler.HealthCheck)

	// Routes that consume the caller's quota
	identified := router.Group("/")
	identified.Use(CallerMiddleware(jwtManager, sessionManager, logger))
	{
		// Web UI
		identified.GET("/", handler.Index)
		identified.POST("/extract", handler.ExtractPage)

		// JSON API
		identified.POST("/api/extract", handler.ExtractJSON)
		identified.POST("/api/export", handler.Export)
		identified.GET("/api/usage", handler.Usage)
	}

	return router
}
