package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "ADMIN_IDS", "NOTIFY_STORE", "NOTIFY_WORKERS", "MIGRATIONS", "NOTIFY_TIMEOUT"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Empty(t, cfg.AdminIDs)
	assert.Equal(t, NotifyStoreRedis, cfg.NotifyStore)
	assert.Equal(t, NotifyModeDirect, cfg.NotifyMode)
	assert.Equal(t, 4, cfg.NotifyWorkers)
	assert.True(t, cfg.Migrations)
	assert.Equal(t, 3*time.Second, cfg.NotifyTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ADMIN_IDS", " admin-1, ,admin-2 ")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("NOTIFY_WORKERS", "8")
	t.Setenv("NOTIFY_TIMEOUT", "750ms")
	t.Setenv("MIGRATIONS", "false")
	t.Setenv("NOTIFY_BUFFER", "lots")

	cfg := Load()
	assert.Equal(t, []string{"admin-1", "admin-2"}, cfg.AdminIDs)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 8, cfg.NotifyWorkers)
	assert.Equal(t, 750*time.Millisecond, cfg.NotifyTimeout)
	assert.False(t, cfg.Migrations)
	assert.Equal(t, 1024, cfg.NotifyBuffer, "unparsable values fall back to the default")
}
