package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Jobs     JobsConfig
	Payments PaymentsConfig
	Proposal ProposalConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Driver     string // postgres, sqlite or memory
	SQLitePath string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/campus?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings. An empty Addr disables the
// change feed and the notification queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the resume bucket. An empty bucket
// disables resume uploads.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ResumeBucket         string
	Endpoint             string // S3-compatible endpoint override, e.g. MinIO
	PresignExpireMinutes int
}

// JobsConfig holds background job settings.
type JobsConfig struct {
	CompletionInterval time.Duration
	NotifyQueue        string
}

// PaymentsConfig selects the registration payment gateway.
type PaymentsConfig struct {
	Provider string // only "simulated" is built in
}

// ProposalConfig holds speaker proposal settings.
type ProposalConfig struct {
	InterviewTimezone string // IANA zone interview date and time are read in
}

// AuthConfig holds account settings. Faculty registering with one of
// BootstrapFacultyEmails are stored approved, so a fresh deployment has
// someone who can approve the rest.
type AuthConfig struct {
	BootstrapFacultyEmails []string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Location resolves the interview timezone, falling back to UTC.
func (c ProposalConfig) Location() (*time.Location, error) {
	if c.InterviewTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.InterviewTimezone)
	if err != nil {
		return time.UTC, fmt.Errorf("interview timezone %q: %w", c.InterviewTimezone, err)
	}
	return loc, nil
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
			SQLitePath: getEnv("SQLITE_PATH", "campus.db"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "campus"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 25)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ResumeBucket:         getEnv("AWS_S3_RESUME_BUCKET", ""),
			Endpoint:             getEnv("AWS_S3_ENDPOINT", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Jobs: JobsConfig{
			CompletionInterval: getEnvDuration("COMPLETION_INTERVAL", time.Minute),
			NotifyQueue:        getEnv("NOTIFY_QUEUE", "worker:notifications"),
		},
		Payments: PaymentsConfig{
			Provider: getEnv("PAYMENT_PROVIDER", "simulated"),
		},
		Proposal: ProposalConfig{
			InterviewTimezone: getEnv("INTERVIEW_TIMEZONE", "UTC"),
		},
		Auth: AuthConfig{
			BootstrapFacultyEmails: splitList(getEnv("BOOTSTRAP_FACULTY_EMAILS", "")),
		},
	}

	switch cfg.Store.Driver {
	case StoreDriverPostgres, StoreDriverSQLite, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Store.Driver)
	}
	if cfg.Payments.Provider != "simulated" {
		return nil, fmt.Errorf("unknown PAYMENT_PROVIDER %q", cfg.Payments.Provider)
	}
	if cfg.Jobs.CompletionInterval <= 0 {
		return nil, fmt.Errorf("COMPLETION_INTERVAL must be positive")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
