package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken       string
	GitHubGraphQLURL  string
	GitHubAPIURL      string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	UseKeyring        bool

	// Collection
	StartDate        string
	NumDays          int
	Workers          int
	CreatedBefore    string
	PageSize         int
	MaxRecordsPerDay int
	MaxCommitPages   int
	MaxAttempts      int
	RetryDelay       time.Duration
	RateLimitPause   time.Duration
	CheckpointDir    string

	// Storage
	StorageType   string // "sqlite", "postgres", "mongo" or "bolt"
	SQLitePath    string
	PostgresURL   string
	MongoURI      string
	MongoDatabase string
	BoltPath      string
	Collection    string

	// Work queue
	QueueType     string // "kafka" or "redis"
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisKey      string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string
	TopN        int

	LogLevel string
}

var defaults = map[string]interface{}{
	"GITHUB_TOKEN":        "",
	"GITHUB_GRAPHQL_URL":  "https://api.github.com/graphql",
	"GITHUB_API_URL":      "https://api.github.com/",
	"REQUEST_TIMEOUT":     60 * time.Second,
	"REQUESTS_PER_SECOND": 0.0,
	"USE_KEYRING":         true,
	"START_DATE":          "",
	"NUM_DAYS":            1,
	"WORKERS":             1,
	"CREATED_BEFORE":      "2022-05-30",
	"PAGE_SIZE":           50,
	"MAX_RECORDS_PER_DAY": 1000,
	"MAX_COMMIT_PAGES":    100,
	"MAX_ATTEMPTS":        3,
	"RETRY_DELAY":         time.Second,
	"RATE_LIMIT_PAUSE":    630 * time.Second,
	"CHECKPOINT_DIR":      "./checkpoints",
	"STORAGE_TYPE":        "sqlite",
	"SQLITE_PATH":         "./stats.db",
	"POSTGRES_URL":        "",
	"MONGO_URI":           "",
	"MONGO_DATABASE":      "GitRepoStatsDB",
	"BOLT_PATH":           "./stats.bolt",
	"COLLECTION":          "consumers",
	"QUEUE_TYPE":          "kafka",
	"KAFKA_BROKERS":       "localhost:9092",
	"KAFKA_TOPIC":         "GitHubStatsFetchingInstance",
	"KAFKA_GROUP":         "GitHubRepoStatsDataFetchingParallelized",
	"REDIS_ADDR":          "localhost:6379",
	"REDIS_PASSWORD":      "",
	"REDIS_KEY":           "GitHubStatsFetchingInstance",
	"API_PORT":            "8080",
	"API_HOST":            "localhost",
	"API_ENDPOINT":        "http://localhost:8080",
	"TOP_N":               10,
	"LOG_LEVEL":           "info",
}

// Load loads the configuration from the environment, a .env file and an
// optional config file. Environment variables win over the file.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	return &Config{
		GitHubToken:       v.GetString("GITHUB_TOKEN"),
		GitHubGraphQLURL:  v.GetString("GITHUB_GRAPHQL_URL"),
		GitHubAPIURL:      v.GetString("GITHUB_API_URL"),
		RequestTimeout:    v.GetDuration("REQUEST_TIMEOUT"),
		RequestsPerSecond: v.GetFloat64("REQUESTS_PER_SECOND"),
		UseKeyring:        v.GetBool("USE_KEYRING"),
		StartDate:         v.GetString("START_DATE"),
		NumDays:           v.GetInt("NUM_DAYS"),
		Workers:           v.GetInt("WORKERS"),
		CreatedBefore:     v.GetString("CREATED_BEFORE"),
		PageSize:          v.GetInt("PAGE_SIZE"),
		MaxRecordsPerDay:  v.GetInt("MAX_RECORDS_PER_DAY"),
		MaxCommitPages:    v.GetInt("MAX_COMMIT_PAGES"),
		MaxAttempts:       v.GetInt("MAX_ATTEMPTS"),
		RetryDelay:        v.GetDuration("RETRY_DELAY"),
		RateLimitPause:    v.GetDuration("RATE_LIMIT_PAUSE"),
		CheckpointDir:     v.GetString("CHECKPOINT_DIR"),
		StorageType:       v.GetString("STORAGE_TYPE"),
		SQLitePath:        v.GetString("SQLITE_PATH"),
		PostgresURL:       v.GetString("POSTGRES_URL"),
		MongoURI:          v.GetString("MONGO_URI"),
		MongoDatabase:     v.GetString("MONGO_DATABASE"),
		BoltPath:          v.GetString("BOLT_PATH"),
		Collection:        v.GetString("COLLECTION"),
		QueueType:         v.GetString("QUEUE_TYPE"),
		KafkaBrokers:      splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:        v.GetString("KAFKA_TOPIC"),
		KafkaGroup:        v.GetString("KAFKA_GROUP"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		RedisPassword:     v.GetString("REDIS_PASSWORD"),
		RedisKey:          v.GetString("REDIS_KEY"),
		APIPort:           v.GetString("API_PORT"),
		APIHost:           v.GetString("API_HOST"),
		APIEndpoint:       v.GetString("API_ENDPOINT"),
		TopN:              v.GetInt("TOP_N"),
		LogLevel:          v.GetString("LOG_LEVEL"),
	}, nil
}

// splitList splits a comma separated value, dropping empty entries
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// StartDay parses StartDate. An empty StartDate means yesterday.
func (c *Config) StartDay(now time.Time) (time.Time, error) {
	if c.StartDate == "" {
		return domain.Day(now).AddDate(0, 0, -1), nil
	}
	day, err := domain.ParseDay(c.StartDate)
	if err != nil {
		return time.Time{}, &ConfigError{Field: "START_DATE", Message: err.Error()}
	}
	return day, nil
}

// CreatedBeforeDay parses CreatedBefore
func (c *Config) CreatedBeforeDay() (time.Time, error) {
	day, err := domain.ParseDay(c.CreatedBefore)
	if err != nil {
		return time.Time{}, &ConfigError{Field: "CREATED_BEFORE", Message: err.Error()}
	}
	return day, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.StorageType {
	case "sqlite", "bolt":
	case "postgres":
		if c.PostgresURL == "" {
			return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
		}
	case "mongo":
		if c.MongoURI == "" {
			return &ConfigError{Field: "MONGO_URI", Message: "MongoDB URI is required when STORAGE_TYPE is 'mongo'"}
		}
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite', 'postgres', 'mongo' or 'bolt'"}
	}
	if c.Collection == "" {
		return &ConfigError{Field: "COLLECTION", Message: "collection name is required"}
	}
	if c.TopN <= 0 {
		return &ConfigError{Field: "TOP_N", Message: "must be positive"}
	}
	return nil
}

// ValidateCollection validates the settings used by collection workers
func (c *Config) ValidateCollection() error {
	if c.NumDays <= 0 {
		return &ConfigError{Field: "NUM_DAYS", Message: "must be positive"}
	}
	if c.Workers <= 0 {
		return &ConfigError{Field: "WORKERS", Message: "must be positive"}
	}
	if c.Workers > c.NumDays {
		return &ConfigError{Field: "WORKERS", Message: "cannot exceed NUM_DAYS"}
	}
	if c.PageSize <= 0 || c.PageSize > 100 {
		return &ConfigError{Field: "PAGE_SIZE", Message: "must be between 1 and 100"}
	}
	if c.MaxRecordsPerDay <= 0 {
		return &ConfigError{Field: "MAX_RECORDS_PER_DAY", Message: "must be positive"}
	}
	if c.MaxAttempts <= 0 {
		return &ConfigError{Field: "MAX_ATTEMPTS", Message: "must be positive"}
	}
	if c.RateLimitPause < 0 {
		return &ConfigError{Field: "RATE_LIMIT_PAUSE", Message: "cannot be negative"}
	}
	if c.StartDate != "" {
		if _, err := domain.ParseDay(c.StartDate); err != nil {
			return &ConfigError{Field: "START_DATE", Message: err.Error()}
		}
	}
	if _, err := c.CreatedBeforeDay(); err != nil {
		return err
	}
	return nil
}

// ValidateQueue validates the work-queue settings
func (c *Config) ValidateQueue() error {
	switch c.QueueType {
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return &ConfigError{Field: "KAFKA_BROKERS", Message: "at least one broker is required"}
		}
		if c.KafkaTopic == "" {
			return &ConfigError{Field: "KAFKA_TOPIC", Message: "topic is required"}
		}
	case "redis":
		if c.RedisAddr == "" {
			return &ConfigError{Field: "REDIS_ADDR", Message: "address is required"}
		}
		if c.RedisKey == "" {
			return &ConfigError{Field: "REDIS_KEY", Message: "queue key is required"}
		}
	default:
		return &ConfigError{Field: "QUEUE_TYPE", Message: "must be 'kafka' or 'redis'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
