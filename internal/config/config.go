// Package config loads the assistant configuration from YAML with
// environment variable overrides for deployment secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseDSN string `yaml:"databaseDSN"`

	RedisAddr         string `yaml:"redisAddr"`
	RedisPassword     string `yaml:"redisPassword"`
	RedisDB           int    `yaml:"redisDB"`
	SessionTTL        string `yaml:"sessionTTL"`
	SessionHistoryMax int    `yaml:"sessionHistoryMax"`

	LLMBaseURL     string `yaml:"llmBaseURL"`
	LLMAPIKey      string `yaml:"llmAPIKey"`
	LLMModel       string `yaml:"llmModel"`
	LLMVisionModel string `yaml:"llmVisionModel"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	TwilioAccountSID string `yaml:"twilioAccountSID"`
	TwilioAuthToken  string `yaml:"twilioAuthToken"`

	IdentityNamespace string `yaml:"identityNamespace"`

	ListingCreditCost         int64    `yaml:"listingCreditCost"`
	AllowedCategories         []string `yaml:"allowedCategories"`
	SearchResultLimit         int      `yaml:"searchResultLimit"`
	MessageRateLimitPerMinute int      `yaml:"messageRateLimitPerMinute"`

	// Extra intent keywords per kind (publish, delete, create, search,
	// cancel, confirm, greeting), appended to the built-in vocabularies.
	KeywordOverrides map[string][]string `yaml:"keywordOverrides"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = strings.TrimSpace(v)
	}
	if v := os.Getenv("LLM_VISION_MODEL"); v != "" {
		cfg.LLMVisionModel = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = strings.TrimSpace(v)
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("AMQP_EXCHANGE"); v != "" {
		cfg.AMQPExchange = strings.TrimSpace(v)
	}
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.TwilioAccountSID = strings.TrimSpace(v)
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		cfg.TwilioAuthToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("IDENTITY_NAMESPACE"); v != "" {
		cfg.IdentityNamespace = strings.TrimSpace(v)
	}
	if v := os.Getenv("LISTING_CREDIT_COST"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.ListingCreditCost = n
		}
	}
	if v := os.Getenv("ALLOWED_CATEGORIES"); v != "" {
		cfg.AllowedCategories = splitCSV(v)
	}
	if v := os.Getenv("MESSAGE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.MessageRateLimitPerMinute = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = "24h"
	}
	if cfg.SessionHistoryMax <= 0 {
		cfg.SessionHistoryMax = 50
	}
	if cfg.ListingCreditCost == 0 {
		cfg.ListingCreditCost = 1
	}
	if cfg.SearchResultLimit <= 0 {
		cfg.SearchResultLimit = 5
	}
	if len(cfg.AllowedCategories) == 0 {
		cfg.AllowedCategories = DefaultCategories()
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return errors.New("config: databaseDSN is required (set in config.yaml or DATABASE_DSN)")
	}
	if strings.TrimSpace(cfg.LLMBaseURL) == "" {
		return errors.New("config: llmBaseURL is required (set in config.yaml or LLM_BASE_URL)")
	}
	if strings.TrimSpace(cfg.LLMModel) == "" {
		return errors.New("config: llmModel is required (set in config.yaml or LLM_MODEL)")
	}
	if cfg.ListingCreditCost < 0 {
		return errors.New("config: listingCreditCost must be >= 0")
	}
	if cfg.MessageRateLimitPerMinute < 0 {
		return errors.New("config: messageRateLimitPerMinute must be >= 0")
	}
	if _, err := time.ParseDuration(cfg.SessionTTL); err != nil {
		return fmt.Errorf("config: invalid sessionTTL: %w", err)
	}
	return nil
}

// ParseSessionTTL returns the session TTL as a duration.
func (c FileConfig) ParseSessionTTL() time.Duration {
	dur, err := time.ParseDuration(c.SessionTTL)
	if err != nil {
		return 24 * time.Hour
	}
	return dur
}

// DefaultCategories is the marketplace category table used when the
// config does not override it.
func DefaultCategories() []string {
	return []string{
		"Elektronik",
		"Ev & Yaşam",
		"Moda & Giyim",
		"Anne & Bebek",
		"Spor & Outdoor",
		"Kitap & Hobi",
		"Otomotiv",
		"Emlak",
		"Diğer",
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
