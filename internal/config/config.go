package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     int    `validate:"min=1,max=65535"`
	Password string `validate:"required"`

	LogDirectory string `validate:"required"`
	DatabasePath string `validate:"required"`

	// Xtal storage backend: fs, s3 or memory.
	StoreDriver   string `validate:"oneof=fs s3 memory"`
	StoreRoot     string `validate:"required_if=StoreDriver fs"`
	S3Bucket      string `validate:"required_if=StoreDriver s3"`
	S3Region      string
	S3Endpoint    string `validate:"omitempty,url"`
	S3PathStyle   bool
	ImportDir     string // watched for new HWI plate directories; empty disables the watcher
	CocktailMenu  string // CSV menu applied to imported HWI runs
	DefaultWells  int    `validate:"omitempty,oneof=24 96 192 384 786 1536"` // plate size of imported HWI runs; 0 infers it
	AutosaveEvery time.Duration

	ModelPath         string
	ModelConfigPath   string
	ClassifyWorkers   int `validate:"min=1,max=64"`
	EstimateEvery     int `validate:"min=1"`
	ProgressQueueSize int `validate:"min=1"`
}

// Load reads configuration from the environment, after merging a .env file
// from the working directory when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnvAsInt("PORT", 8080),
		Password:          getEnv("PASSWORD", "polo"),
		LogDirectory:      getEnv("LOG_DIR", filepath.Join(".", "logs")),
		DatabasePath:      getEnv("DB_PATH", filepath.Join(".", "data", "polo.db")),
		StoreDriver:       strings.ToLower(getEnv("STORE_DRIVER", "fs")),
		StoreRoot:         getEnv("STORE_ROOT", filepath.Join(".", "data", "xtals")),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3PathStyle:       getEnvAsBool("S3_PATH_STYLE", false),
		ImportDir:         getEnv("IMPORT_DIR", ""),
		CocktailMenu:      getEnv("COCKTAIL_MENU", ""),
		DefaultWells:      getEnvAsInt("DEFAULT_WELL_COUNT", 0),
		AutosaveEvery:     getEnvAsDuration("AUTOSAVE_INTERVAL", 30*time.Second),
		ModelPath:         getEnv("MODEL_PATH", filepath.Join(".", "models", "marco.pb")),
		ModelConfigPath:   getEnv("MODEL_CONFIG_PATH", ""),
		ClassifyWorkers:   getEnvAsInt("CLASSIFY_WORKERS", 2),
		EstimateEvery:     getEnvAsInt("ETA_SAMPLE_EVERY", 5),
		ProgressQueueSize: getEnvAsInt("PROGRESS_QUEUE_SIZE", 64),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("45s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
