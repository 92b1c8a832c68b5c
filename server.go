package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/remit_backend/config"
	"bitbucket.org/mmdatafocus/remit_backend/extract"
	"bitbucket.org/mmdatafocus/remit_backend/middlewares"
	"bitbucket.org/mmdatafocus/remit_backend/models"
	"bitbucket.org/mmdatafocus/remit_backend/utils"
	"bitbucket.org/mmdatafocus/remit_backend/workflow"
	"bitbucket.org/mmdatafocus/remit_backend/xerosync"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the DB is ready, app endpoints return 503.
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Deny all when unconfigured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	gateway, err := xerosync.NewClient()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "xerosync"}).Fatal(err.Error())
	}
	extractor, err := extract.NewClient()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "extract"}).Fatal(err.Error())
	}

	registerRoutes(r, logger, gateway, extractor)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations
	// as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{"port": port}).Info("server started")

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func registerRoutes(r *gin.Engine, logger *logrus.Logger, gateway workflow.Gateway, extractor extract.Extractor) {
	r.POST("/login", loginHandler())

	api := r.Group("/api/v1")
	{
		api.POST("/uploads/sign", signUploadHandler())
		api.POST("/uploads/complete", completeUploadHandler())

		api.GET("/remittances", listRemittancesHandler())
		api.GET("/remittances/:id", getRemittanceHandler())
		api.POST("/remittances/:id/extract", extractRemittanceHandler(extractor, gateway))
		api.PUT("/remittances/:id/lines/:lineId", overrideLineHandler())
		api.POST("/remittances/:id/approve", approveRemittanceHandler(gateway))
		api.POST("/remittances/:id/unapprove", unapproveRemittanceHandler(gateway))
		api.POST("/remittances/:id/retry", retryRemittanceHandler())
		api.DELETE("/remittances/:id", deleteRemittanceHandler())
		api.POST("/remittances/:id/restore", restoreRemittanceHandler())

		api.GET("/reports/remittance-register", remittanceRegisterHandler())
		api.GET("/reports/audit-trail", auditTrailReportHandler())
	}

	// Pub/Sub push endpoints for the daily reconciliation poll.
	r.POST("/pubsub/reconcile", xerosync.PubSubPushHandler(logger, gateway))
	r.POST("/internal/reconcile/fan-out", reconcileFanOutHandler(logger))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}

// reconcileFanOutHandler publishes one poll trigger per active business.
// Cloud Scheduler hits this once a day.
func reconcileFanOutHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := strings.TrimSpace(os.Getenv("INTERNAL_OPS_TOKEN")); token != "" {
			if c.GetHeader("X-Internal-Token") != token {
				c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
				return
			}
		}
		published, err := xerosync.FanOutReconcilePoll(c.Request.Context(), logger)
		if err != nil {
			config.LogError(logger, "server.go", "reconcileFanOutHandler", "FanOutReconcilePoll", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "fan-out failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"published": published})
	}
}

// customErrorLogger logs only requests that produced errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		for _, ginErr := range c.Errors {
			correlationId, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":           c.Request.URL.Path,
				"method":         c.Request.Method,
				"status":         c.Writer.Status(),
				"correlation_id": correlationId,
			}).Error(ginErr.Error())
		}
	}
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
