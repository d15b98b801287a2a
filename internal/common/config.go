package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
	Paths    PathsConfig
	Store    StoreConfig
	Sheet    SheetConfig
}

// DatabaseConfig holds database-related configuration.
// DSN is either a postgres:// URL or a sqlite file path ("file:" prefix optional).
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr string
	GRPCAddr string
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL      string
	Model        string
	APIKey       string
	Temperature  float32
	Timeout      time.Duration
	RateLimitRPM int
}

// PipelineConfig holds the case worker pool and extraction budgets.
type PipelineConfig struct {
	Workers        int
	QueueSize      int
	CaseTimeout    time.Duration
	MaxAttempts    int
	AttemptCeiling int
	AttemptTimeout time.Duration
	// Schemas lists "name@version" refs extracted for every case.
	Schemas []string
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	InboxDir  string
	SchemaDir string
	RulesFile string
}

// StoreConfig selects where emitted records go.
type StoreConfig struct {
	Kind          string // sql | mongo
	MongoURI      string
	MongoDatabase string
}

// SheetConfig controls the scheduled tabular import and pending-case sweep.
type SheetConfig struct {
	Path      string
	Cron      string
	SweepCron string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", "file:infoburn.db"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8081"),
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		LLM: LLMConfig{
			BaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			Temperature:  getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:      getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
			RateLimitRPM: getEnvAsInt("LLM_RATE_LIMIT_RPM", 15),
		},
		Pipeline: PipelineConfig{
			Workers:        getEnvAsInt("PIPELINE_WORKERS", 4),
			QueueSize:      getEnvAsInt("PIPELINE_QUEUE_SIZE", 256),
			CaseTimeout:    getEnvAsDuration("CASE_TIMEOUT", 10*time.Minute),
			MaxAttempts:    getEnvAsInt("EXTRACT_MAX_ATTEMPTS", 3),
			AttemptCeiling: getEnvAsInt("EXTRACT_ATTEMPT_CEILING", 10),
			AttemptTimeout: getEnvAsDuration("EXTRACT_ATTEMPT_TIMEOUT", 90*time.Second),
			Schemas:        getEnvAsList("EXTRACT_SCHEMAS", []string{"burns@1", "clinical_case@1"}),
		},
		Paths: PathsConfig{
			InboxDir:  getEnv("INBOX_DIR", ""),
			SchemaDir: getEnv("SCHEMA_DIR", ""),
			RulesFile: getEnv("RULES_FILE", ""),
		},
		Store: StoreConfig{
			Kind:          getEnv("RECORD_STORE", "sql"),
			MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			MongoDatabase: getEnv("MONGO_DATABASE", "infoburn"),
		},
		Sheet: SheetConfig{
			Path:      getEnv("SHEET_PATH", ""),
			Cron:      getEnv("SHEET_CRON", "0 * * * *"),
			SweepCron: getEnv("SWEEP_CRON", "*/15 * * * *"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" && c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR or HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "EXTRACT_MAX_ATTEMPTS must be >= 1", ErrInvalidInput)
	}
	if c.Pipeline.AttemptCeiling < c.Pipeline.MaxAttempts {
		return NewAppError("CONFIG_ERROR", "EXTRACT_ATTEMPT_CEILING must be >= EXTRACT_MAX_ATTEMPTS", ErrInvalidInput)
	}
	if len(c.Pipeline.Schemas) == 0 {
		return NewAppError("CONFIG_ERROR", "EXTRACT_SCHEMAS must name at least one schema", ErrInvalidInput)
	}
	switch c.Store.Kind {
	case "sql":
	case "mongo":
		if c.Store.MongoURI == "" {
			return NewAppError("CONFIG_ERROR", "MONGO_URI is required when RECORD_STORE=mongo", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "RECORD_STORE must be sql or mongo", ErrInvalidInput)
	}
	return nil
}
