package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Store backends selectable through APP_STORE_BACKEND
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// DynamoDB document store configuration
	Dynamo DynamoConfig `env:",prefix=DYNAMO_"`

	// Redis notification feed configuration
	Redis RedisConfig `env:",prefix=REDIS_"`

	// Log output configuration
	Log LogConfig `env:",prefix=LOG_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string   `env:"PORT,default=8080"`
	Host         string   `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int      `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int      `env:"WRITE_TIMEOUT,default=30"` // seconds
	CORSOrigins  []string `env:"CORS_ORIGINS,default=*"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=promo_codes"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=25"`
	MinConns int    `env:"MIN_CONNS,default=5"`
}

// DynamoConfig holds the document store table settings
type DynamoConfig struct {
	Table    string `env:"TABLE,default=promo-registry"`
	Region   string `env:"REGION,default=us-east-1"`
	Profile  string `env:"PROFILE"`
	Endpoint string `env:"ENDPOINT"`
}

// RedisConfig holds the notification feed connection
type RedisConfig struct {
	Enabled  bool          `env:"ENABLED,default=false"`
	Addr     string        `env:"ADDR,default=127.0.0.1:6379"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB,default=0"`
	Prefix   string        `env:"PREFIX,default=promo"`
	FeedTTL  time.Duration `env:"FEED_TTL,default=720h"`
}

// LogConfig holds rotation settings for file logs
type LogConfig struct {
	Dir        string `env:"DIR"`
	Filename   string `env:"FILENAME,default=promo.log"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB,default=100"`
	MaxBackups int    `env:"MAX_BACKUPS,default=7"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS,default=30"`
	Compress   bool   `env:"COMPRESS,default=true"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment    string            `env:"ENVIRONMENT,default=development"`
	LogLevel       string            `env:"LOG_LEVEL,default=info"`
	Debug          bool              `env:"DEBUG,default=false"`
	StoreBackend   string            `env:"STORE_BACKEND,default=memory"`
	RegistryName   string            `env:"REGISTRY_NAME,default=default"`
	MaxGenerate    int               `env:"MAX_GENERATE,default=10000"`
	RateLimitRPS   float64           `env:"RATE_LIMIT_RPS,default=50"`
	RateLimitBurst int               `env:"RATE_LIMIT_BURST,default=100"`
	SeedAgents     map[string]string `env:"SEED_AGENTS"`
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	c.App.StoreBackend = strings.ToLower(strings.TrimSpace(c.App.StoreBackend))
	switch c.App.StoreBackend {
	case BackendMemory, BackendPostgres, BackendDynamoDB:
	default:
		return fmt.Errorf("unsupported store backend %q", c.App.StoreBackend)
	}
	if c.App.MaxGenerate <= 0 {
		return fmt.Errorf("APP_MAX_GENERATE must be positive, got %d", c.App.MaxGenerate)
	}
	return nil
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// LogMode maps the app settings onto the logger mode
func (c *AppConfig) LogMode() string {
	if c.Debug || strings.EqualFold(c.LogLevel, "debug") {
		return "debug"
	}
	return "release"
}
