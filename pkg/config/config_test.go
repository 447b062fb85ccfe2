package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("ledger-service")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.Equal(t, "trialstock_ledger", cfg.Database.Database)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 6*time.Hour, cfg.Sweeper.Interval)
	assert.True(t, cfg.Sweeper.Enabled)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TRIALSTOCK_SERVER_PORT", "9090")
	t.Setenv("TRIALSTOCK_DATABASE_HOST", "db.internal")

	cfg, err := Load("ledger-service")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestLoadWithValidation_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("TRIALSTOCK_SERVER_ENVIRONMENT", "production")
	t.Setenv("TRIALSTOCK_DATABASE_URL", "postgres://u:p@db.internal/ledger")

	// Default JWT secret must be rejected in production
	_, err := LoadWithValidation("ledger-service")
	assert.Error(t, err)

	t.Setenv("TRIALSTOCK_JWT_SECRET", "a-real-secret")
	t.Setenv("TRIALSTOCK_RABBITMQ_URL", "amqp://u:p@mq.internal:5672/")

	cfg, err := LoadWithValidation("ledger-service")
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Server.Environment)
}
