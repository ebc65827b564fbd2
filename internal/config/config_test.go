package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/market")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.BusDriver)
	assert.Equal(t, 60*time.Second, cfg.EmailBatchDelay)
	assert.Equal(t, 5000, cfg.BulkNotificationLimit)
	assert.Equal(t, []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second}, cfg.JobRetryBackoff)
	assert.Equal(t, 4, cfg.WorkersFor("email"))
	assert.Equal(t, 1, cfg.WorkersFor("payouts"))
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")
	t.Setenv("JWT_SECRET", "secret")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidBusDriver(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/market")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("BUS_DRIVER", "kafka")

	_, err := Load()
	assert.ErrorContains(t, err, "BUS_DRIVER")
}

func TestValidate_WorkerCounts(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/market")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("EMAIL_WORKERS", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "EMAIL_WORKERS")
}
