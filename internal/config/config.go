package config

import (
	"os"
	"strconv"
	"time"
	_ "time/tzdata"
)

// Repository and storage driver names.
const (
	DriverPostgres = "postgres"
	DriverDynamoDB = "dynamodb"
	DriverMinIO    = "minio"
	DriverS3       = "s3"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Driver             string
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
	AutoMigrate        bool
}

// DynamoDBConfig holds settings for the DynamoDB document table.
type DynamoDBConfig struct {
	Table    string
	Endpoint string
	Region   string
}

// StorageConfig selects the blob backend and the key prefix for uploaded files.
type StorageConfig struct {
	Driver string
	Prefix string
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Config holds settings for AWS S3 (or any S3 endpoint reachable through the AWS SDK).
type S3Config struct {
	Bucket       string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// RedisConfig configures the metadata cache. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTLSec   int
}

// AMQPConfig configures the document event publisher. An empty URL disables publishing.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost            string
	Port               string
	Timezone           string
	LogLevel           string
	UploadMaxBytes     int
	DownloadURLTTLSec  int
	ShutdownTimeoutSec int
	Database           DatabaseConfig
	DynamoDB           DynamoDBConfig
	Storage            StorageConfig
	MinIO              MinIOConfig
	S3                 S3Config
	Redis              RedisConfig
	AMQP               AMQPConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	region := getEnv("AWS_REGION", "us-east-1")

	return &AppConfig{
		AppHost:            getEnv("APP_HOST", "localhost:8080"),
		Port:               getEnv("PORT", "8080"),
		Timezone:           getEnv("APP_TIMEZONE", "UTC"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		UploadMaxBytes:     getEnvInt("UPLOAD_MAX_BYTES", 32<<20),
		DownloadURLTTLSec:  getEnvInt("DOWNLOAD_URL_TTL_SEC", 900),
		ShutdownTimeoutSec: getEnvInt("SHUTDOWN_TIMEOUT_SEC", 10),
		Database: DatabaseConfig{
			Driver:             getEnv("DB_DRIVER", DriverPostgres),
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
			AutoMigrate:        getEnvBool("DB_AUTO_MIGRATE", true),
		},
		DynamoDB: DynamoDBConfig{
			Table:    getEnv("DYNAMODB_TABLE", "documents"),
			Endpoint: getEnv("DYNAMODB_ENDPOINT", ""),
			Region:   region,
		},
		Storage: StorageConfig{
			Driver: getEnv("STORAGE_DRIVER", DriverMinIO),
			Prefix: getEnv("STORAGE_PREFIX", "documents"),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		S3: S3Config{
			Bucket:       getEnv("S3_BUCKET", ""),
			Endpoint:     getEnv("S3_ENDPOINT", ""),
			Region:       region,
			AccessKey:    getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
			UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTLSec:   getEnvInt("CACHE_TTL_SEC", 300),
		},
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "documents"),
		},
	}
}

// Location resolves Timezone, falling back to UTC when the zone is unknown.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
