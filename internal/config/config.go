package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config represents the application configuration
type Config struct {
	Schema    SchemaConfig    `json:"schema"    envPrefix:"SQLWARD_"`
	Security  SecurityConfig  `json:"security"  envPrefix:"SQLWARD_"`
	Retrieval RetrievalConfig `json:"retrieval" envPrefix:"SQLWARD_"`
	LLM       LLMConfig       `json:"llm"       envPrefix:"SQLWARD_"`
	Database  DatabaseConfig  `json:"database"  envPrefix:"SQLWARD_"`
	Pipeline  PipelineConfig  `json:"pipeline"  envPrefix:"SQLWARD_"`
	Logging   LoggingConfig   `json:"logging"   envPrefix:"SQLWARD_"`
}

// SchemaConfig locates the schema graph document
type SchemaConfig struct {
	Path string `json:"path" env:"SCHEMA_PATH" envDefault:"schema_graph.json"`
}

// SecurityConfig controls scoping enforcement and query policy
type SecurityConfig struct {
	ScopingColumn     string `json:"scoping_column"      env:"SCOPING_COLUMN"      envDefault:"accounts_entity_id"`
	EnableAutoScoping bool   `json:"enable_auto_scoping" env:"ENABLE_AUTO_SCOPING" envDefault:"true"`
	MaxTables         int    `json:"max_tables"          env:"MAX_TABLES"          envDefault:"10"`
	AllowedOperations string `json:"allowed_operations"  env:"ALLOWED_OPERATIONS"  envDefault:"SELECT"`
	DefaultRole       string `json:"default_role"        env:"DEFAULT_ROLE"        envDefault:"customer"`
	RolesJSON         string `json:"roles"               env:"ROLES_CONFIG"        envDefault:""`
	RateLimitPerMin   int    `json:"rate_limit_per_min"  env:"RATE_LIMIT_PER_MIN"  envDefault:"60"`
	DefaultLimit      int    `json:"default_limit"       env:"DEFAULT_LIMIT"       envDefault:"100"`
}

// AllowedOperationList splits the allow-list into normalized verbs
func (s SecurityConfig) AllowedOperationList() []string {
	var ops []string

	for _, op := range strings.Split(s.AllowedOperations, ",") {
		op = strings.ToUpper(strings.TrimSpace(op))
		if op != "" {
			ops = append(ops, op)
		}
	}

	return ops
}

// RetrievalConfig controls the table retrieval index
type RetrievalConfig struct {
	TopK     int     `json:"top_k"     env:"RETRIEVAL_TOP_K"     envDefault:"10"`
	MinScore float64 `json:"min_score" env:"RETRIEVAL_MIN_SCORE" envDefault:"0.1"`
}

// LLMConfig represents LLM provider configuration
type LLMConfig struct {
	Provider      string `json:"provider"       env:"LLM_PROVIDER"       envDefault:"openai"`
	Model         string `json:"model"          env:"LLM_MODEL"          envDefault:"gpt-4o-mini"`
	APIKey        string `json:"api_key"        env:"LLM_API_KEY"`
	BaseURL       string `json:"base_url"       env:"LLM_BASE_URL"`
	Timeout       string `json:"timeout"        env:"LLM_TIMEOUT"        envDefault:"60s"`
	MaxTokens     int    `json:"max_tokens"     env:"LLM_MAX_TOKENS"     envDefault:"1024"`
	BreakerTrips  int    `json:"breaker_trips"  env:"LLM_BREAKER_TRIPS"  envDefault:"3"`
	BreakerResetS int    `json:"breaker_reset"  env:"LLM_BREAKER_RESET"  envDefault:"30"`
}

// TimeoutDuration returns the parsed per-call timeout
func (l LLMConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(l.Timeout)
	if err != nil {
		return 60 * time.Second
	}

	return d
}

// DatabaseConfig represents the read-only execution oracle configuration
type DatabaseConfig struct {
	DSN            string `json:"dsn"              env:"DB_DSN"`
	MaxConnections int    `json:"max_connections"  env:"DB_MAX_CONNECTIONS"  envDefault:"10"`
	QueryTimeout   string `json:"query_timeout"    env:"DB_QUERY_TIMEOUT"    envDefault:"30s"`
	EnableFeedback bool   `json:"enable_feedback"  env:"DB_ENABLE_FEEDBACK"  envDefault:"false"`
}

// QueryTimeoutDuration returns the parsed per-query timeout
func (d DatabaseConfig) QueryTimeoutDuration() time.Duration {
	t, err := time.ParseDuration(d.QueryTimeout)
	if err != nil {
		return 30 * time.Second
	}

	return t
}

// PipelineConfig controls the orchestration loop
type PipelineConfig struct {
	MaxAttempts int `json:"max_attempts" env:"MAX_ATTEMPTS" envDefault:"3"`
	CacheSize   int `json:"cache_size"   env:"CACHE_SIZE"   envDefault:"100"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"  env:"LOG_LEVEL"  envDefault:"info"`   // debug, info, warn, error
	Format string `json:"format" env:"LOG_FORMAT" envDefault:"text"`   // text, json
	Output string `json:"output" env:"LOG_OUTPUT" envDefault:"stderr"` // stdout, stderr
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	config := &Config{}

	// Load from config file if it exists
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Apply environment variable overrides using env library (also sets defaults)
	if err := env.ParseWithOptions(config, env.Options{
		Prefix: "SQLWARD_",
	}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadConfigFromFile loads configuration from a JSON file
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	mergeConfigs(config, &fileConfig)

	return nil
}

// mergeConfigs merges source configuration into target configuration
func mergeConfigs(target, source *Config) {
	var mergeValues func(t, s reflect.Value)
	mergeValues = func(t, s reflect.Value) {
		if t.Kind() != s.Kind() {
			return
		}

		if t.Kind() == reflect.Struct {
			for i := 0; i < s.NumField(); i++ {
				mergeValues(t.Field(i), s.Field(i))
			}
		} else if s.Kind() == reflect.Bool {
			t.Set(s)
		} else if !s.IsZero() {
			t.Set(s)
		}
	}

	mergeValues(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem())
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	if _, err := time.ParseDuration(config.LLM.Timeout); err != nil {
		return fmt.Errorf("invalid LLM timeout: %s", config.LLM.Timeout)
	}

	if _, err := time.ParseDuration(config.Database.QueryTimeout); err != nil {
		return fmt.Errorf("invalid database query timeout: %s", config.Database.QueryTimeout)
	}

	if config.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("pipeline max attempts must be positive: %d", config.Pipeline.MaxAttempts)
	}

	if config.Security.MaxTables <= 0 {
		return fmt.Errorf("security max tables must be positive: %d", config.Security.MaxTables)
	}

	if len(config.Security.AllowedOperationList()) == 0 {
		return fmt.Errorf("allowed operations list must not be empty")
	}

	return nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv("SQLWARD_CONFIG"); configPath != "" {
		return configPath
	}

	return "config.json"
}
