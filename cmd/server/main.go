package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"github.com/unidoc/unioffice/common/license"

	"github.com/sanjeevkumarraob/invoice-extractor/internal/api"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/auth"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/backend"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/config"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/document"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/export"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/invoice"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/session"
	"github.com/sanjeevkumarraob/invoice-extractor/internal/usage"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "INVOICE-EXTRACTOR: ", log.Ldate|log.Ltime|log.Lshortfile)

	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.IsDebug() {
		gin.SetMode(gin.DebugMode)
		logger.Printf("Starting with configuration: %s", cfg)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	var exportOpts []export.Option
	if key := os.Getenv("UNIDOC_LICENSE_API_KEY"); key != "" {
		if err := license.SetMeteredKey(key); err != nil {
			logger.Printf("WARNING: unidoc license rejected, writing workbooks with excelize: %v", err)
		} else {
			exportOpts = append(exportOpts, export.WithUnioffice())
			logger.Printf("Writing workbooks with unioffice")
		}
	}

	// Field rules
	fieldExtractor := invoice.NewDefaultExtractor()
	if cfg.RulesFile != "" {
		rules, err := invoice.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			logger.Fatalf("Failed to load rules: %v", err)
		}
		fieldExtractor, err = invoice.NewExtractor(rules)
		if err != nil {
			logger.Fatalf("Invalid rules in %s: %v", cfg.RulesFile, err)
		}
		logger.Printf("Loaded %d field rules from %s", len(rules), cfg.RulesFile)
	}

	// Local extraction, or forwarding to a remote backend
	var processor api.Processor
	if cfg.IsRemote() {
		client := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout, cfg.MaxFileSize, logger)
		processor = client
		logger.Printf("Forwarding extractions to %s", client.BaseURL())
	} else {
		processor = document.NewProcessor(logger, fieldExtractor, cfg.MaxFileSize)
	}

	// Free tier metering
	var meter *usage.Meter
	if cfg.IsMetered() {
		counter, closeCounter, err := newCounter(cfg, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize usage counters: %v", err)
		}
		defer closeCounter()

		meter = usage.NewMeter(counter, cfg.FreeDailyLimit, cfg.FreeMaxFileSize, cfg.UpgradeURL)
		logger.Printf("Free tier: %d extractions per day, %d bytes per file", cfg.FreeDailyLimit, cfg.FreeMaxFileSize)
	}

	if cfg.SessionSecret == config.DefaultSessionSecret || cfg.JWTSecret == config.DefaultJWTSecret {
		logger.Printf("WARNING: Using insecure default secrets. Set INVOICE_SESSION_SECRET and INVOICE_JWT_SECRET for production.")
	}

	sessionManager := session.NewSessionManager(logger, session.NewCookieStore(cfg.SessionSecret), cfg.SecureCookies)
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)

	handler := api.NewHandler(
		processor,
		export.New(fieldExtractor, exportOpts...),
		meter,
		logger,
		cfg.MaxFileSize,
	)
	router := api.NewRouter(handler, jwtManager, sessionManager, logger)
	router.MaxMultipartMemory = 8 << 20

	// Start server
	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.BackendTimeout + 30*time.Second,
	}

	go func() {
		logger.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalCh
	logger.Printf("Received signal: %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("Server shutdown with error: %v", err)
	}
	logger.Println("Server stopped")
}

// newCounter picks PostgreSQL when a database is configured, memory otherwise
func newCounter(cfg *config.Config, logger *log.Logger) (usage.Counter, func(), error) {
	if cfg.DatabaseURL != "" {
		counter, err := usage.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("Usage counters stored in PostgreSQL")
		return counter, func() {
			if err := counter.Close(); err != nil {
				logger.Printf("Failed to close database: %v", err)
			}
		}, nil
	}

	counter := usage.NewMemoryCounter(time.Hour)
	logger.Printf("Usage counters kept in memory")
	return counter, counter.Close, nil
}
