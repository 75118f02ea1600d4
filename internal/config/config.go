// Package config loads server settings from defaults, an optional .env file,
// the environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr     string `env:"ADDR,default=:8080"`
	DBDriver string `env:"DB_DRIVER,default=sqlite3"`
	DBDSN    string `env:"DB_DSN,default=mpchat.db"`

	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	JWTSecret       string        `env:"JWT_SECRET"`
	SessionLifetime time.Duration `env:"SESSION_LIFETIME,default=24h"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT,default=5s"`

	AdminUsername  string `env:"ADMIN_USERNAME,default=mpc"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=*"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`

	// ResetPresenceOnStart marks every user offline when the server boots.
	ResetPresenceOnStart bool `env:"RESET_PRESENCE_ON_START,default=true"`

	S3Bucket    string        `env:"S3_BUCKET"`
	S3Region    string        `env:"S3_REGION,default=us-east-1"`
	S3Endpoint  string        `env:"S3_ENDPOINT"`
	S3AccessKey string        `env:"S3_ACCESS_KEY"`
	S3SecretKey string        `env:"S3_SECRET_KEY"`
	MediaURLTTL time.Duration `env:"MEDIA_URL_TTL,default=15m"`
}

// loadDotEnv is a seam for tests.
var loadDotEnv = func() { _ = godotenv.Load() }

// Load builds the configuration. args are the command-line arguments without
// the program name.
func Load(args []string) (*Config, error) {
	loadDotEnv()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	fs := flag.NewFlagSet("mpchat", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "http service address")
	fs.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "database driver (pgx or sqlite3)")
	fs.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "database connection string")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "pgx", "sqlite3":
	default:
		return fmt.Errorf("config error: unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("config error: JWT_SECRET is required")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("config error: STORE_TIMEOUT must be positive")
	}
	if c.SessionLifetime <= 0 {
		return errors.New("config error: SESSION_LIFETIME must be positive")
	}
	return nil
}

// Origins splits AllowedOrigins on commas. A single "*" allows every origin.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) MediaEnabled() bool {
	return c.S3Bucket != ""
}
