package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"portal-messaging/pkg/constants"
)

// Backend values for MessagingConfig.Backend
const (
	BackendMemory      = "memory"
	BackendDistributed = "distributed"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Cassandra CassandraConfig `yaml:"cassandra"`
	Cockroach CockroachConfig `yaml:"cockroach"`
	Redis     RedisConfig     `yaml:"redis"`
	MinIO     MinIOConfig     `yaml:"minio"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Messaging MessagingConfig `yaml:"messaging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Environment    string        `yaml:"environment"` // development, staging, production
	ServiceName    string        `yaml:"service_name"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// CassandraConfig holds the enhanced message store configuration
type CassandraConfig struct {
	Hosts       []string      `yaml:"hosts"`
	Keyspace    string        `yaml:"keyspace"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	Consistency string        `yaml:"consistency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CockroachConfig holds the conversation and legacy message store configuration
type CockroachConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MinIOConfig holds attachment blob storage configuration
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	PublicURL string `yaml:"public_url"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string `yaml:"level"`  // debug, info, warn, error
	Format   string `yaml:"format"` // json, console
	Output   string `yaml:"output"` // stdout, file
	FilePath string `yaml:"file_path"`
}

// MessagingConfig tunes the conversation engine
type MessagingConfig struct {
	Backend           string        `yaml:"backend"`
	DedupWindow       time.Duration `yaml:"dedup_window"`
	MaxContentLength  int           `yaml:"max_content_length"`
	MaxAttachmentSize int64         `yaml:"max_attachment_size"`
	PreviewLength     int           `yaml:"preview_length"`
	TimelineLimit     int           `yaml:"timeline_limit"`
	RedisFanout       bool          `yaml:"redis_fanout"`
}

// RateLimitConfig throttles message sends per user
type RateLimitConfig struct {
	SendsPerMinute int `yaml:"sends_per_minute"`
	Burst          int `yaml:"burst"`
}

// Defaults returns the development configuration
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Environment:    "development",
			ServiceName:    "messaging-service",
			AllowedOrigins: []string{"http://localhost:3000"},
			RequestTimeout: constants.DefaultTimeout,
		},
		Cassandra: CassandraConfig{
			Hosts:       []string{"localhost"},
			Keyspace:    "portal_messaging",
			Consistency: "QUORUM",
			Timeout:     600 * time.Millisecond,
		},
		Cockroach: CockroachConfig{
			Host:     "localhost",
			Port:     26257,
			User:     "root",
			Database: "portal_messaging",
			SSLMode:  "disable",
			MaxConns: 25,
			MinConns: 5,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			PoolSize: 10,
			Timeout:  5 * time.Second,
		},
		MinIO: MinIOConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "portal-attachments",
		},
		JWT: JWTConfig{
			Issuer: "portal",
		},
		Log: LogConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "/logs/app.log",
		},
		Messaging: MessagingConfig{
			Backend:           BackendMemory,
			DedupWindow:       constants.DedupWindow,
			MaxContentLength:  constants.MaxMessageLength,
			MaxAttachmentSize: constants.MaxAttachmentSize,
			PreviewLength:     constants.MessagePreviewLength,
			TimelineLimit:     constants.DefaultMessagePageSize,
		},
		RateLimit: RateLimitConfig{
			SendsPerMinute: 60,
			Burst:          10,
		},
	}
}

// Load builds configuration from defaults, the optional YAML file named by
// CONFIG_FILE, then environment variables, in that order of precedence.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvAsInt("PORT", c.Server.Port)
	c.Server.Environment = getEnv("ENV", c.Server.Environment)
	c.Server.ServiceName = getEnv("SERVICE_NAME", c.Server.ServiceName)
	c.Server.AllowedOrigins = getEnvAsSlice("CORS_ALLOWED_ORIGINS", c.Server.AllowedOrigins)
	c.Server.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout)

	c.Cassandra.Hosts = getEnvAsSlice("CASSANDRA_HOSTS", c.Cassandra.Hosts)
	c.Cassandra.Keyspace = getEnv("CASSANDRA_KEYSPACE", c.Cassandra.Keyspace)
	c.Cassandra.Username = getEnv("CASSANDRA_USER", c.Cassandra.Username)
	c.Cassandra.Password = getEnvFromFile("CASSANDRA_PASSWORD", c.Cassandra.Password)
	c.Cassandra.Consistency = getEnv("CASSANDRA_CONSISTENCY", c.Cassandra.Consistency)
	c.Cassandra.Timeout = getEnvAsDuration("CASSANDRA_TIMEOUT", c.Cassandra.Timeout)

	c.Cockroach.Host = getEnv("DB_HOST", c.Cockroach.Host)
	c.Cockroach.Port = getEnvAsInt("DB_PORT", c.Cockroach.Port)
	c.Cockroach.User = getEnv("DB_USER", c.Cockroach.User)
	c.Cockroach.Password = getEnvFromFile("DB_PASSWORD", c.Cockroach.Password)
	c.Cockroach.Database = getEnv("DB_NAME", c.Cockroach.Database)
	c.Cockroach.SSLMode = getEnv("DB_SSL_MODE", c.Cockroach.SSLMode)
	c.Cockroach.MaxConns = getEnvAsInt("DB_MAX_CONNS", c.Cockroach.MaxConns)
	c.Cockroach.MinConns = getEnvAsInt("DB_MIN_CONNS", c.Cockroach.MinConns)

	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnvAsInt("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnvFromFile("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Redis.PoolSize = getEnvAsInt("REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.Timeout = getEnvAsDuration("REDIS_TIMEOUT", c.Redis.Timeout)

	c.MinIO.Endpoint = getEnv("MINIO_ENDPOINT", c.MinIO.Endpoint)
	c.MinIO.AccessKey = getEnvFromFile("MINIO_ACCESS_KEY", c.MinIO.AccessKey)
	c.MinIO.SecretKey = getEnvFromFile("MINIO_SECRET_KEY", c.MinIO.SecretKey)
	c.MinIO.UseSSL = getEnvAsBool("MINIO_USE_SSL", c.MinIO.UseSSL)
	c.MinIO.Bucket = getEnv("MINIO_BUCKET", c.MinIO.Bucket)
	c.MinIO.PublicURL = getEnv("MINIO_PUBLIC_URL", c.MinIO.PublicURL)

	c.JWT.Secret = getEnvFromFile("JWT_SECRET", c.JWT.Secret)
	c.JWT.Issuer = getEnv("JWT_ISSUER", c.JWT.Issuer)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.Output = getEnv("LOG_OUTPUT", c.Log.Output)
	c.Log.FilePath = getEnv("LOG_FILE_PATH", c.Log.FilePath)

	c.Messaging.Backend = getEnv("MESSAGING_BACKEND", c.Messaging.Backend)
	c.Messaging.DedupWindow = getEnvAsDuration("MESSAGING_DEDUP_WINDOW", c.Messaging.DedupWindow)
	c.Messaging.MaxContentLength = getEnvAsInt("MESSAGING_MAX_CONTENT_LENGTH", c.Messaging.MaxContentLength)
	c.Messaging.MaxAttachmentSize = int64(getEnvAsInt("MESSAGING_MAX_ATTACHMENT_SIZE", int(c.Messaging.MaxAttachmentSize)))
	c.Messaging.PreviewLength = getEnvAsInt("MESSAGING_PREVIEW_LENGTH", c.Messaging.PreviewLength)
	c.Messaging.TimelineLimit = getEnvAsInt("MESSAGING_TIMELINE_LIMIT", c.Messaging.TimelineLimit)
	c.Messaging.RedisFanout = getEnvAsBool("MESSAGING_REDIS_FANOUT", c.Messaging.RedisFanout)

	c.RateLimit.SendsPerMinute = getEnvAsInt("RATE_LIMIT_SENDS_PER_MINUTE", c.RateLimit.SendsPerMinute)
	c.RateLimit.Burst = getEnvAsInt("RATE_LIMIT_BURST", c.RateLimit.Burst)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}

	switch c.Messaging.Backend {
	case BackendMemory, BackendDistributed:
	default:
		return fmt.Errorf("unknown messaging backend %q", c.Messaging.Backend)
	}

	if c.Server.Port <= 0 {
		return fmt.Errorf("server port must be positive")
	}
	if c.Messaging.DedupWindow <= 0 {
		return fmt.Errorf("dedup window must be positive")
	}
	if c.Messaging.MaxContentLength <= 0 || c.Messaging.PreviewLength <= 0 || c.Messaging.TimelineLimit <= 0 {
		return fmt.Errorf("messaging limits must be positive")
	}
	if c.Messaging.MaxAttachmentSize <= 0 {
		return fmt.Errorf("attachment size limit must be positive")
	}
	if c.RateLimit.SendsPerMinute <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// URL builds the pgx connection string
func (c *CockroachConfig) URL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Addr returns host:port
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
