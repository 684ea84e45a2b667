package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("JWT_SECRET", "")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, StorePostgres, cfg.StoreBackend)
	assert.Equal(t, "sid", cfg.Session.CookieName)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.TTL)
	assert.True(t, cfg.Session.SecureCookie)
	assert.Equal(t, "deposit-events", cfg.MQ.Channel)
	assert.Empty(t, cfg.MQ.Backend)
	assert.Empty(t, cfg.ObjectStorage.Backend)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("JWT_SECRET", "  s3cret ")
	t.Setenv("SESSION_TTL_HOURS", "1")
	t.Setenv("ADMIN_PHONE", "0700000000")
	t.Setenv("ADMIN_PASS", "hunter22")
	t.Setenv("DB_USE_SSL", "true")

	cfg := LoadConfig()

	assert.True(t, cfg.IsDev())
	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, "s3cret", cfg.Session.Secret)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.False(t, cfg.Session.SecureCookie)
	assert.Equal(t, "0700000000", cfg.Admin.Phone)
	assert.Equal(t, "hunter22", cfg.Admin.Password)
	assert.True(t, cfg.Database.UseSSL)
}
