package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, JobsBackendMemory, cfg.Jobs.Backend)
	assert.True(t, cfg.Filters.ExcludeSoftDeleted)
	assert.True(t, cfg.Filters.ExcludeArchived)
	assert.Equal(t, 100, cfg.Exports.MaxPageSize)
	assert.Equal(t, 24*time.Hour, cfg.Exports.SignedURLTTL)
	assert.Equal(t, time.Minute, cfg.Database.StatementTimeout)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JOBS_BACKEND", "ASYNQ")
	t.Setenv("FILTERS_EXCLUDE_ARCHIVED", "false")
	t.Setenv("EXPORTS_SIGNED_URL_TTL", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, JobsBackendAsynq, cfg.Jobs.Backend)
	assert.False(t, cfg.Filters.ExcludeArchived)
	assert.Equal(t, 24*time.Hour, cfg.Exports.SignedURLTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}
