package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/estate-erp-api/api/swagger"
	"github.com/noah-isme/estate-erp-api/internal/bootstrap"
	"github.com/noah-isme/estate-erp-api/internal/handler"
	"github.com/noah-isme/estate-erp-api/internal/middleware"
	"github.com/noah-isme/estate-erp-api/internal/service"
	"github.com/noah-isme/estate-erp-api/pkg/cache"
	"github.com/noah-isme/estate-erp-api/pkg/config"
	"github.com/noah-isme/estate-erp-api/pkg/jobs"
	"github.com/noah-isme/estate-erp-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/estate-erp-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/estate-erp-api/pkg/middleware/requestid"
)

// @title Estate ERP Query & Export API
// @version 1.0.0
// @description Permission-scoped entity queries and CSV/XLSX/PDF exports.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	comps, err := bootstrap.Build(cfg, logr)
	if err != nil {
		return err
	}
	defer comps.Close()

	if cfg.Database.AutoMigrate {
		migrator, err := comps.Migrator()
		if err != nil {
			return err
		}
		if err := migrator.Up(ctx); err != nil {
			return err
		}
	}

	dispatcher, shutdownJobs, err := startDispatcher(ctx, cfg, comps)
	if err != nil {
		return err
	}
	defer shutdownJobs()

	jobSvc, err := service.NewExportJobService(comps.JobRepo, comps.Exports, dispatcher, comps.Storage, comps.Signer, comps.Audit, comps.Metrics,
		service.ExportJobConfig{StatusCacheSize: cfg.Exports.StatusCacheSize}, logr.Named("export-jobs"))
	if err != nil {
		return err
	}
	if cfg.Jobs.RecoverOnBoot {
		if _, err := jobSvc.RecoverPending(ctx); err != nil {
			logr.Warn("failed to recover pending export jobs", zap.Error(err))
		}
	}

	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	router := newRouter(cfg, logr, comps, jobSvc, tokens)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "jobs_backend", cfg.Jobs.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startDispatcher picks the job backend. In memory mode this process owns the
// workers, so it also fails jobs a previous run left running.
func startDispatcher(ctx context.Context, cfg *config.Config, comps *bootstrap.Components) (jobs.Dispatcher, func(), error) {
	if cfg.Jobs.Backend == config.JobsBackendAsynq {
		dispatcher := jobs.NewAsynqDispatcher(cache.AsynqOpt(cfg.Redis), jobs.AsynqConfig{
			Queue:      cfg.Jobs.AsynqQueue,
			MaxRetries: cfg.Jobs.Retries,
			Timeout:    cfg.Jobs.Timeout,
			Logger:     comps.Logger.Named("asynq"),
		})
		return dispatcher, func() { _ = dispatcher.Close() }, nil
	}

	if _, err := comps.Worker.FailInterrupted(ctx); err != nil {
		return nil, nil, fmt.Errorf("fail interrupted export jobs: %w", err)
	}
	queue := jobs.NewQueue("exports", comps.Worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.Retries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Timeout:    cfg.Jobs.Timeout,
		Logger:     comps.Logger.Named("queue"),
	})
	if err := comps.Metrics.WatchQueueDepth("exports", queue.Pending); err != nil {
		return nil, nil, fmt.Errorf("register queue metrics: %w", err)
	}
	queue.Start(context.WithoutCancel(ctx))
	return queue, queue.Stop, nil
}

func newRouter(cfg *config.Config, logr *zap.Logger, comps *bootstrap.Components, jobSvc *service.ExportJobService, tokens *service.TokenService) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(comps.Metrics, "/health", "/ready", "/metrics"))

	metricsHandler := handler.NewMetricsHandler(comps.Metrics, comps.DB)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	queryHandler := handler.NewQueryHandler(comps.Exports)
	exportHandler := handler.NewExportHandler(comps.Exports, jobSvc, cfg.APIPrefix)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokens), middleware.AuditContext(), middleware.WithResponseMeta())

	query := api.Group("/query")
	query.POST("/:entity", queryHandler.List)
	query.POST("/:entity/resolve", middleware.RequireElevated(), queryHandler.Resolve)

	exports := api.Group("/exports")
	exports.POST("", exportHandler.Export)
	exports.POST("/count", exportHandler.Count)
	exports.POST("/jobs", exportHandler.CreateJob)
	exports.GET("/jobs", exportHandler.ListJobs)
	exports.GET("/jobs/:id", exportHandler.JobStatus)
	exports.GET("/download/:token", exportHandler.Download)

	return r
}
