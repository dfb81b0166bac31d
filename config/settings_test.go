package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cleanEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ENV", "STORAGE_DRIVER", "CORS_ALLOWED_ORIGINS", "REDIS_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_REQUIRED"} {
		t.Setenv(key, "")
	}
	t.Setenv("COMMISSION_TIMEZONE", "UTC")
}

func TestLoadSettings_CORSOrigins(t *testing.T) {
	cleanEnv(t)
	t.Setenv("ENV", "production")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://enroll.example.com, ,https://admin.example.com ")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://enroll.example.com", "https://admin.example.com"}, s.CORSOrigins)

	t.Setenv("ENV", "development")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	s, err = LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:8080"}, s.CORSOrigins)
}

func TestLoadSettings_Redis(t *testing.T) {
	cleanEnv(t)
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_REQUIRED", "true")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, RedisSettings{Addr: "cache:6380", DB: 2, Required: true}, s.Redis)

	t.Setenv("REDIS_DB", "-1")
	_, err = LoadSettings()
	assert.Error(t, err)
}

func TestRedisSettings_URLWins(t *testing.T) {
	opts, err := RedisSettings{URL: "redis://:secret@redis.internal:6379/3", Addr: "ignored:1"}.options()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)

	_, err = RedisSettings{URL: "http://nope"}.options()
	assert.Error(t, err)
}

func TestConnectRedis_OptionalFallsBack(t *testing.T) {
	client, err := ConnectRedis(RedisSettings{Addr: "127.0.0.1:1"})
	assert.NoError(t, err)
	assert.Nil(t, client)

	_, err = ConnectRedis(RedisSettings{Addr: "127.0.0.1:1", Required: true})
	assert.Error(t, err)
}

func TestLoadSettings_RejectsUnknownStorage(t *testing.T) {
	cleanEnv(t)
	t.Setenv("STORAGE_DRIVER", "sqlite")
	_, err := LoadSettings()
	assert.Error(t, err)
}
