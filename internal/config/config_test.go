package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")
	t.Setenv("DB_MAX_OPEN_CONNS", "20")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("STORAGE_DRIVER", "s3")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := Load()

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.MinIO.UseSSL)
	assert.Equal(t, DriverS3, cfg.Storage.Driver)
	assert.Equal(t, "eu-west-1", cfg.S3.Region)
	assert.Equal(t, "eu-west-1", cfg.DynamoDB.Region)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DB_DRIVER", "STORAGE_DRIVER", "STORAGE_PREFIX", "UPLOAD_MAX_BYTES", "DB_AUTO_MIGRATE", "AMQP_URL", "CACHE_TTL_SEC"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, DriverMinIO, cfg.Storage.Driver)
	assert.Equal(t, "documents", cfg.Storage.Prefix)
	assert.Equal(t, 32<<20, cfg.UploadMaxBytes)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Empty(t, cfg.AMQP.URL)
	assert.Equal(t, 300, cfg.Redis.TTLSec)
}

func TestLocation(t *testing.T) {
	cfg := &AppConfig{Timezone: "Europe/Moscow"}
	assert.Equal(t, "Europe/Moscow", cfg.Location().String())

	cfg.Timezone = "Nowhere/Invalid"
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestGetEnv(t *testing.T) {
	key := "TEST_ENV_VAR"
	os.Setenv(key, "value")
	defer os.Unsetenv(key)

	assert.Equal(t, "value", getEnv(key, "default"))
	assert.Equal(t, "default", getEnv("NON_EXISTENT", "default"))
}

func TestGetEnvBool(t *testing.T) {
	key := "TEST_BOOL_VAR"

	os.Setenv(key, "true")
	assert.True(t, getEnvBool(key, false))

	os.Setenv(key, "false")
	assert.False(t, getEnvBool(key, true))

	os.Setenv(key, "invalid")
	assert.True(t, getEnvBool(key, true))

	os.Unsetenv(key)
	assert.True(t, getEnvBool(key, true))
}

func TestGetEnvInt(t *testing.T) {
	key := "TEST_INT_VAR"

	os.Setenv(key, "123")
	assert.Equal(t, 123, getEnvInt(key, 0))

	os.Setenv(key, "invalid")
	assert.Equal(t, 10, getEnvInt(key, 10))

	os.Unsetenv(key)
	assert.Equal(t, 10, getEnvInt(key, 10))
}
