// Package config loads service settings. Values come from, in increasing
// precedence: built-in defaults, an optional TOML file named by
// FINSIGHT_CONFIG, and environment variables (a .env file is loaded by the
// binaries before Load runs).
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	AuthJWT    = "jwt"
	AuthHeader = "header"

	ExportNone   = "none"
	ExportSheets = "sheets"
)

type Config struct {
	// HTTP Server
	Port           string
	MetricsEnabled bool
	RateLimitRPM   int

	// Logging
	LogLevel  string
	LogFormat string

	// Storage
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string
	SeedDir      string
	SeedUser     string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Export to Google Sheets
	ExportBackend            string
	GoogleSpreadsheetID      string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string

	// Sessions
	AuthMode      string
	AuthJWTSecret string

	// Insights
	InsightCacheTTL  time.Duration
	InsightCacheSize int
	AnalysisDelay    time.Duration

	// Worker
	SyncBatchSize int
	SyncInterval  time.Duration
}

// fileConfig mirrors the TOML layout. Durations are strings such as "30s".
type fileConfig struct {
	Server struct {
		Port           string `toml:"port"`
		MetricsEnabled *bool  `toml:"metrics_enabled"`
		RateLimitRPM   int    `toml:"rate_limit_rpm"`
	} `toml:"server"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
	Storage struct {
		Backend     string `toml:"backend"`
		SQLitePath  string `toml:"sqlite_path"`
		DatabaseURL string `toml:"database_url"`
		SeedDir     string `toml:"seed_dir"`
		SeedUser    string `toml:"seed_user"`
	} `toml:"storage"`
	AMQP struct {
		URL      string `toml:"url"`
		Exchange string `toml:"exchange"`
		Queue    string `toml:"queue"`
	} `toml:"amqp"`
	Export struct {
		Backend            string `toml:"backend"`
		SpreadsheetID      string `toml:"spreadsheet_id"`
		ServiceAccountFile string `toml:"service_account_file"`
	} `toml:"export"`
	Auth struct {
		Mode      string `toml:"mode"`
		JWTSecret string `toml:"jwt_secret"`
	} `toml:"auth"`
	Insight struct {
		CacheTTL      string `toml:"cache_ttl"`
		CacheSize     int    `toml:"cache_size"`
		AnalysisDelay string `toml:"analysis_delay"`
	} `toml:"insight"`
	Worker struct {
		BatchSize int    `toml:"batch_size"`
		Interval  string `toml:"interval"`
	} `toml:"worker"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:           "8080",
		MetricsEnabled: true,
		RateLimitRPM:   120,

		LogLevel:  "info",
		LogFormat: "text",

		DataBackend:  BackendMemory,
		SQLiteDBPath: "./data/finsight.db",
		SeedDir:      "./data",
		SeedUser:     "demo",

		AMQPExchange: "finsight",
		AMQPQueue:    "transaction_events",

		ExportBackend: ExportNone,

		AuthMode: AuthHeader,

		InsightCacheTTL:  5 * time.Minute,
		InsightCacheSize: 1000,

		SyncBatchSize: 10,
		SyncInterval:  30 * time.Second,
	}
}

// Load builds the configuration from defaults, the FINSIGHT_CONFIG file if
// any, and the environment.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("FINSIGHT_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var f fileConfig
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	setString(&c.Port, f.Server.Port)
	if f.Server.MetricsEnabled != nil {
		c.MetricsEnabled = *f.Server.MetricsEnabled
	}
	setInt(&c.RateLimitRPM, f.Server.RateLimitRPM)
	setString(&c.LogLevel, f.Log.Level)
	setString(&c.LogFormat, f.Log.Format)
	setString(&c.DataBackend, f.Storage.Backend)
	setString(&c.SQLiteDBPath, f.Storage.SQLitePath)
	setString(&c.DatabaseURL, f.Storage.DatabaseURL)
	setString(&c.SeedDir, f.Storage.SeedDir)
	setString(&c.SeedUser, f.Storage.SeedUser)
	setString(&c.AMQPURL, f.AMQP.URL)
	setString(&c.AMQPExchange, f.AMQP.Exchange)
	setString(&c.AMQPQueue, f.AMQP.Queue)
	setString(&c.ExportBackend, f.Export.Backend)
	setString(&c.GoogleSpreadsheetID, f.Export.SpreadsheetID)
	setString(&c.GoogleServiceAccountFile, f.Export.ServiceAccountFile)
	setString(&c.AuthMode, f.Auth.Mode)
	setString(&c.AuthJWTSecret, f.Auth.JWTSecret)
	setInt(&c.InsightCacheSize, f.Insight.CacheSize)
	setInt(&c.SyncBatchSize, f.Worker.BatchSize)

	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"insight.cache_ttl", f.Insight.CacheTTL, &c.InsightCacheTTL},
		{"insight.analysis_delay", f.Insight.AnalysisDelay, &c.AnalysisDelay},
		{"worker.interval", f.Worker.Interval, &c.SyncInterval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config file %s: invalid %s %q: %w", path, d.name, d.raw, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.MetricsEnabled)
	c.RateLimitRPM = getEnvInt("RATE_LIMIT_RPM", c.RateLimitRPM)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.DataBackend = getEnv("DATA_BACKEND", c.DataBackend)
	c.SQLiteDBPath = getEnv("SQLITE_DB_PATH", c.SQLiteDBPath)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.SeedDir = getEnv("SEED_DIR", c.SeedDir)
	c.SeedUser = getEnv("SEED_USER", c.SeedUser)

	c.AMQPURL = getEnv("AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("AMQP_EXCHANGE", c.AMQPExchange)
	c.AMQPQueue = getEnv("AMQP_QUEUE", c.AMQPQueue)

	c.ExportBackend = getEnv("EXPORT_BACKEND", c.ExportBackend)
	c.GoogleSpreadsheetID = getEnv("GOOGLE_SPREADSHEET_ID", c.GoogleSpreadsheetID)
	c.GoogleServiceAccountFile = getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", c.GoogleServiceAccountFile)
	c.GoogleServiceAccountJSON = getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", c.GoogleServiceAccountJSON)

	c.AuthMode = getEnv("AUTH_MODE", c.AuthMode)
	c.AuthJWTSecret = getEnv("AUTH_JWT_SECRET", c.AuthJWTSecret)

	c.InsightCacheTTL = getEnvDuration("INSIGHT_CACHE_TTL", c.InsightCacheTTL)
	c.InsightCacheSize = getEnvInt("INSIGHT_CACHE_SIZE", c.InsightCacheSize)
	c.AnalysisDelay = getEnvDuration("ANALYSIS_DELAY", c.AnalysisDelay)

	c.SyncBatchSize = getEnvInt("SYNC_BATCH_SIZE", c.SyncBatchSize)
	c.SyncInterval = getEnvDuration("SYNC_INTERVAL", c.SyncInterval)
}

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	validBackends := []string{BackendMemory, BackendSQLite, BackendPostgres}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errors = append(errors, "invalid DATABASE_URL: must be a postgres:// or postgresql:// URL")
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	switch c.ExportBackend {
	case ExportNone:
	case ExportSheets:
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets export")
		}
		if c.GoogleServiceAccountFile == "" && c.GoogleServiceAccountJSON == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for sheets export")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid export backend '%s': must be 'none' or 'sheets'", c.ExportBackend))
	}

	switch c.AuthMode {
	case AuthHeader:
	case AuthJWT:
		if len(c.AuthJWTSecret) < 32 {
			errors = append(errors, "AUTH_JWT_SECRET must be at least 32 characters when using jwt auth")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid auth mode '%s': must be 'jwt' or 'header'", c.AuthMode))
	}

	if c.InsightCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid insight cache size %d: must be at least 1", c.InsightCacheSize))
	}
	if c.InsightCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid insight cache TTL %v: must not be negative", c.InsightCacheTTL))
	}
	if c.AnalysisDelay < 0 || c.AnalysisDelay > 10*time.Second {
		errors = append(errors, fmt.Sprintf("invalid analysis delay %v: must be between 0 and 10s", c.AnalysisDelay))
	}
	if c.RateLimitRPM < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitRPM))
	}

	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
