package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"

	"github.com/Ramsey-B/fern/pkg/database"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern-api"`
	Version                       string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"330"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"`
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"fern"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10m"`
	DatabaseStatementTimeout      time.Duration `env:"DB_STATEMENT_TIMEOUT" env-default:"5m"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`
	// Run migrations when the server starts
	DatabaseMigrateOnStartup bool `env:"DB_MIGRATE_ON_STARTUP" env-default:"true"`

	// Auth Enabled - when false, the caller is read from the X-User-ID header
	AuthEnabled   bool   `env:"AUTH_ENABLED" env-default:"false"`
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	AuthClientID  string `env:"AUTH_CLIENT_ID" env-default:""`

	RedisEnabled  bool   `env:"REDIS_ENABLED" env-default:"false"`
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	KafkaEnabled    bool   `env:"KAFKA_ENABLED" env-default:"false"`
	KafkaBrokers    string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaMergeTopic string `env:"KAFKA_MERGE_TOPIC" env-default:"workspace-user-merges"`

	MergeBatchSize          int           `env:"MERGE_BATCH_SIZE" env-default:"1000"`
	MergeMaxBatchIterations int           `env:"MERGE_MAX_BATCH_ITERATIONS" env-default:"500"`
	MergeLockTTL            time.Duration `env:"MERGE_LOCK_TTL" env-default:"15m"`

	OTLPEnabled  bool          `env:"OTLP_ENABLED" env-default:"false"`
	OTLPEndpoint string        `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPProtocol string        `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure bool          `env:"OTLP_INSECURE" env-default:"true"`
	OTLPHeaders  string        `env:"OTLP_HEADERS" env-default:""`
	OTLPTimeout  time.Duration `env:"OTLP_TIMEOUT" env-default:"10s"`
}

// Load reads the given .env files when they exist, then binds the environment over the
// env-default tags.
func Load(dotEnvPaths ...string) (*Config, error) {
	for _, path := range dotEnvPaths {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("config.os.Stat(%s): %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("config.godotenv(%s): %w", path, err)
		}
	}

	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}
	cfg.AllowOrigins = splitList(cfg.AllowOrigins)
	cfg.AllowMethods = splitList(cfg.AllowMethods)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.MergeBatchSize <= 0 {
		return fmt.Errorf("MERGE_BATCH_SIZE must be positive, got %d", c.MergeBatchSize)
	}
	if c.MergeMaxBatchIterations <= 0 {
		return fmt.Errorf("MERGE_MAX_BATCH_ITERATIONS must be positive, got %d", c.MergeMaxBatchIterations)
	}
	if c.AuthEnabled && (c.AuthIssuerURL == "" || c.AuthClientID == "") {
		return fmt.Errorf("AUTH_ISSUER_URL and AUTH_CLIENT_ID are required when AUTH_ENABLED is true")
	}
	return nil
}

// splitList trims the entries ectoenv splits on commas and drops empty ones.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		Driver:           c.DatabaseDriver,
		Host:             c.DatabaseHost,
		Port:             c.DatabasePort,
		User:             c.DatabaseUserName,
		Password:         c.DatabasePassword,
		Name:             c.DatabaseName,
		SSLMode:          c.DatabaseSSLMode,
		MaxOpenConns:     c.DatabaseMaxOpenConns,
		MaxIdleConns:     c.DatabaseMaxIdleConns,
		ConnMaxLifetime:  c.DatabaseConnMaxLifetime,
		StatementTimeout: c.DatabaseStatementTimeout,
	}
}

func (c *Config) MigrationConfig() *database.MigrationConfig {
	version := c.DatabaseMigrationVersion
	if version < 0 {
		version = 0
	}
	return &database.MigrationConfig{
		MigrationFolderPath: c.DatabaseMigrationFolderPath,
		Version:             uint(version),
		Force:               c.DatabaseMigrationForce,
		AutoRollback:        c.DatabaseMigrationAutoRollback,
	}
}
