package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/dhawalhost/scimprobe/internal/admin"
	"github.com/dhawalhost/scimprobe/internal/auth"
	"github.com/dhawalhost/scimprobe/internal/config"
	"github.com/dhawalhost/scimprobe/internal/endpoint"
	"github.com/dhawalhost/scimprobe/internal/requestlog"
	"github.com/dhawalhost/scimprobe/internal/scim"
	"github.com/dhawalhost/scimprobe/pkg/database"
	"github.com/dhawalhost/scimprobe/pkg/logger"
	"github.com/dhawalhost/scimprobe/pkg/middleware"
	"github.com/dhawalhost/scimprobe/pkg/observability"
)

const serviceName = "scimprobe"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	level := zapcore.InfoLevel
	if !cfg.Production() {
		level = zapcore.DebugLevel
	}
	log := logger.New(level)
	defer log.Sync()

	if cfg.SecretGenerated {
		log.Warn("no SCIM_SHARED_SECRET configured, generated a one-off secret",
			zap.String("secret", cfg.SharedSecret))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: admin.Version,
		Environment:    cfg.Environment,
	}, log)
	if err != nil {
		log.Fatal("tracer init failed", zap.Error(err))
	}
	metrics := observability.NewMetrics()

	endpointSvc := endpoint.NewService(endpoint.NewStore(db), log)
	scimSvc := scim.NewService(scim.NewStore(db), log)
	logStore := requestlog.NewStore(db)
	authn := auth.New(cfg.SharedSecret, cfg.JWTSecret, log)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		gin.Recovery(),
		otelgin.Middleware(serviceName),
		observability.PrometheusMiddleware(metrics),
		middleware.SecurityHeadersMiddleware(),
	)

	r.GET("/healthz", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(observability.PrometheusHandler()))

	// Capture sits on the shared API group so admin traffic is audited too;
	// entries outside a tenant scope carry a null endpoint id.
	api := r.Group("/"+cfg.APIPrefix, requestlog.Capture(logStore, log))

	scimGroup := api.Group("", authn.Middleware())
	scim.NewHTTPHandler(scimSvc, endpointSvc, cfg.APIPrefix, log).RegisterRoutes(scimGroup)

	adminGroup := api.Group("/admin",
		cors.New(cors.Config{
			AllowOrigins:  []string{"*"},
			AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Authorization", "Content-Type"},
			ExposeHeaders: []string{"ETag"},
			MaxAge:        12 * time.Hour,
		}),
		middleware.RateLimitMiddleware(rate.Limit(50), 100),
		authn.Middleware(),
	)
	endpoint.NewHTTPHandler(endpointSvc, log).RegisterRoutes(adminGroup)
	requestlog.NewHTTPHandler(logStore, log).RegisterRoutes(adminGroup)
	admin.NewHTTPHandler(cfg).RegisterRoutes(adminGroup)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           middleware.Edge(middleware.EdgeConfig{APIPrefix: cfg.APIPrefix})(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting",
			zap.String("addr", srv.Addr),
			zap.String("apiPrefix", cfg.APIPrefix),
			zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("tracer shutdown failed", zap.Error(err))
	}
}
