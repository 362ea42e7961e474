// Package bootstrap assembles the export engine from configuration. Both the
// API server and exportctl build on it.
package bootstrap

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/registry"
	"github.com/noah-isme/estate-erp-api/internal/repository"
	"github.com/noah-isme/estate-erp-api/internal/service"
	"github.com/noah-isme/estate-erp-api/migrations"
	"github.com/noah-isme/estate-erp-api/pkg/cache"
	"github.com/noah-isme/estate-erp-api/pkg/config"
	"github.com/noah-isme/estate-erp-api/pkg/database"
	"github.com/noah-isme/estate-erp-api/pkg/export"
	"github.com/noah-isme/estate-erp-api/pkg/storage"
)

// Components are the long-lived collaborators shared by every entry point.
type Components struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *sqlx.DB
	Redis    *redis.Client
	Entities *registry.Registry
	Metrics  *service.MetricsService
	Audit    *service.AuditService
	Counts   *service.CacheService
	Exports  *service.ExportService
	JobRepo  *repository.ExportJobRepository
	Storage  *storage.LocalStorage
	Signer   *storage.SignedURLSigner
	Worker   *service.ExportWorker
}

// Build opens the database, and Redis when caching or asynq needs it, then
// wires the services.
func Build(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	c := &Components{Config: cfg, Logger: logger, DB: db}

	if cfg.Cache.Enabled || cfg.Jobs.Backend == config.JobsBackendAsynq {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			if cfg.Jobs.Backend == config.JobsBackendAsynq {
				c.Close()
				return nil, fmt.Errorf("connect redis: %w", err)
			}
			logger.Warn("redis unavailable, count cache disabled", zap.Error(err))
		} else {
			c.Redis = client
		}
	}

	entities, err := registry.Build(repository.EntityStoreFactory(db), registry.Definitions()...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("build entity registry: %w", err)
	}
	c.Entities = entities
	c.Metrics = service.NewMetricsService()
	c.Audit = newAuditService(cfg.Audit, db, logger)

	if c.Redis != nil {
		c.Counts = service.NewCacheService(repository.NewCacheRepository(c.Redis, "estate-erp", logger), c.Metrics, cfg.Cache.CountTTL, logger, cfg.Cache.Enabled)
	}
	c.Exports = service.NewExportService(entities, export.DefaultRegistry(), c.Counts, c.Audit, c.Metrics, service.ExportServiceConfig{
		MaxPageSize: cfg.Exports.MaxPageSize,
		SyncMaxRows: cfg.Exports.SyncMaxRows,
		System:      SystemConstraints(cfg.Filters),
	}, logger.Named("exports"))

	c.Storage, err = storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Signer = storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	c.JobRepo = repository.NewExportJobRepository(db)
	c.Worker = service.NewExportWorker(c.JobRepo, c.Exports, c.Storage, c.Signer, c.Metrics, cfg.APIPrefix, logger.Named("export-worker"))
	return c, nil
}

// SystemConstraints maps the filter toggles onto the engine's system layer.
func SystemConstraints(cfg config.FiltersConfig) filter.SystemConstraints {
	return filter.NewSystemConstraints(cfg.ExcludeSoftDeleted, cfg.ExcludeArchived, cfg.IncludeLockedPeriods, cfg.IncludePosted)
}

// SchemaRegistry registers every entity without a database. Its stores
// answer Columns only, which is enough for resolving and listing entities.
func SchemaRegistry() (*registry.Registry, error) {
	return registry.Build(repository.EntityStoreFactory(nil), registry.Definitions()...)
}

func newAuditService(cfg config.AuditConfig, db *sqlx.DB, logger *zap.Logger) *service.AuditService {
	if !cfg.Enabled {
		return nil
	}
	sinks := []service.AuditSink{service.NewLogSink(logger.Named("audit"))}
	if cfg.Persist {
		sinks = append(sinks, service.NewRepositorySink(repository.NewAuditRepository(db)))
	}
	return service.NewAuditService(logger, cfg.Async, sinks...)
}

// Migrator returns a goose migrator over the embedded migrations.
func (c *Components) Migrator() (*database.Migrator, error) {
	return database.NewMigrator(c.DB, migrations.FS)
}

// Close waits for pending audit writes and releases connections.
func (c *Components) Close() {
	c.Audit.Wait()
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
