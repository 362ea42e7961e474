package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService fronts the count cache and reports hit metrics. A disabled
// service reports every lookup as a miss and drops writes.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// CountKey derives the cache key for a row count. The predicate is hashed so
// two requests share an entry only when they resolve identically.
func CountKey(entity string, pred filter.Predicate) (string, error) {
	raw, err := auditJSON.Marshal(pred)
	if err != nil {
		return "", fmt.Errorf("hash predicate: %w", err)
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("count:%s:%s", entity, hex.EncodeToString(sum[:])), nil
}

// GetCount returns a cached count for the predicate.
func (s *CacheService) GetCount(ctx context.Context, entity string, pred filter.Predicate) (int64, bool) {
	if !s.Enabled() {
		return 0, false
	}
	key, err := CountKey(entity, pred)
	if err != nil {
		return 0, false
	}
	var count int64
	hit, err := s.Get(ctx, key, &count)
	if err != nil || !hit {
		return 0, false
	}
	return count, true
}

// SetCount stores a count for the predicate with the default TTL.
func (s *CacheService) SetCount(ctx context.Context, entity string, pred filter.Predicate, count int64) {
	if !s.Enabled() {
		return
	}
	key, err := CountKey(entity, pred)
	if err != nil {
		return
	}
	_ = s.Set(ctx, key, count, 0)
}

// InvalidateCounts drops every cached count for entity, or for all entities
// when entity is empty.
func (s *CacheService) InvalidateCounts(ctx context.Context, entity string) error {
	if entity == "" {
		return s.Invalidate(ctx, "count:*")
	}
	return s.Invalidate(ctx, fmt.Sprintf("count:%s:*", entity))
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	s.metrics.RecordCacheOperation(true, duration)
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate removes cached values for the provided pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}
