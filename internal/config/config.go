// Package config loads service configuration from YAML with environment
// overrides for deployment-sensitive values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// QueueConfig selects and tunes the job queue driver.
type QueueConfig struct {
	Driver             string `yaml:"driver"` // "redis" or "amqp"
	AMQPURL            string `yaml:"amqpURL"`
	AMQPQueue          string `yaml:"amqpQueue"`
	Stream             string `yaml:"stream"`
	Group              string `yaml:"group"`
	Concurrency        int    `yaml:"concurrency"`
	MaxRetries         int    `yaml:"maxRetries"`
	RetryBaseSeconds   int    `yaml:"retryBaseSeconds"`
	JobTTLHours        int    `yaml:"jobTTLHours"`
}

// AIConfig selects the model provider and its endpoints.
type AIConfig struct {
	Provider       string `yaml:"provider"` // "openai", "ollama", or "gemini"
	BaseURL        string `yaml:"baseURL"`
	APIKey         string `yaml:"apiKey"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embeddingModel"`
	EmbeddingDim   int    `yaml:"embeddingDim"`
}

// ProcessingConfig tunes the pipeline.
type ProcessingConfig struct {
	ChunkSize          int `yaml:"chunkSize"`
	ChunkOverlap       int `yaml:"chunkOverlap"`
	MinTextLength      int `yaml:"minTextLength"`
	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`
}

// ChatConfig tunes retrieval for the chat read path.
type ChatConfig struct {
	TopK         int `yaml:"topK"`
	HistoryLimit int `yaml:"historyLimit"`
}

// OCRConfig points at the OCR sidecar for image extraction.
type OCRConfig struct {
	BaseURL string `yaml:"baseURL"`
	Lang    string `yaml:"lang"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string           `yaml:"port"`
	LogLevel       string           `yaml:"logLevel"`
	DatabaseURL    string           `yaml:"databaseURL"`
	RedisAddr      string           `yaml:"redisAddr"`
	RedisPassword  string           `yaml:"redisPassword"`
	MinioEndpoint  string           `yaml:"minioEndpoint"`
	MinioAccessKey string           `yaml:"minioAccessKey"`
	MinioSecretKey string           `yaml:"minioSecretKey"`
	MinioBucket    string           `yaml:"minioBucket"`
	MinioUseSSL    bool             `yaml:"minioUseSSL"`
	MaxUploadBytes int64            `yaml:"maxUploadBytes"`
	Queue          QueueConfig      `yaml:"queue"`
	AI             AIConfig         `yaml:"ai"`
	Processing     ProcessingConfig `yaml:"processing"`
	Chat           ChatConfig       `yaml:"chat"`
	OCR            OCRConfig        `yaml:"ocr"`
}

// Load reads config from path (defaults to config.yaml).
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
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
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
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Queue.AMQPURL = v
	}
	if v := os.Getenv("AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("AI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("DOCMIND_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("DOCMIND_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.Concurrency = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Queue.Driver == "" {
		cfg.Queue.Driver = "redis"
	}
	if cfg.Queue.Stream == "" {
		cfg.Queue.Stream = "docmind:jobs"
	}
	if cfg.Queue.Group == "" {
		cfg.Queue.Group = "workers"
	}
	if cfg.Queue.AMQPQueue == "" {
		cfg.Queue.AMQPQueue = "docmind.jobs"
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 2
	}
	if cfg.Queue.MaxRetries <= 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Queue.RetryBaseSeconds <= 0 {
		cfg.Queue.RetryBaseSeconds = 2
	}
	if cfg.Processing.ChunkSize <= 0 {
		cfg.Processing.ChunkSize = 1000
	}
	if cfg.Processing.ChunkOverlap <= 0 {
		cfg.Processing.ChunkOverlap = 200
	}
	if cfg.Processing.MinTextLength <= 0 {
		cfg.Processing.MinTextLength = 50
	}
	if cfg.Processing.RateLimitPerMinute <= 0 {
		cfg.Processing.RateLimitPerMinute = 10
	}
	if cfg.Chat.TopK <= 0 {
		cfg.Chat.TopK = 3
	}
	if cfg.Chat.HistoryLimit <= 0 {
		cfg.Chat.HistoryLimit = 5
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	switch cfg.Queue.Driver {
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for the redis queue driver")
		}
	case "amqp":
		if cfg.Queue.AMQPURL == "" {
			return errors.New("config: queue.amqpURL is required for the amqp queue driver")
		}
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required (rate limiting)")
		}
	default:
		return fmt.Errorf("config: unknown queue driver %q (want redis or amqp)", cfg.Queue.Driver)
	}
	switch cfg.AI.Provider {
	case "openai":
		if cfg.AI.BaseURL == "" || cfg.AI.APIKey == "" {
			return errors.New("config: ai.baseURL and ai.apiKey are required for the openai provider")
		}
	case "gemini":
		if cfg.AI.APIKey == "" {
			return errors.New("config: ai.apiKey is required for the gemini provider")
		}
	case "ollama":
		// base URL optional, defaults to the local daemon
	default:
		return fmt.Errorf("config: unknown ai provider %q (want openai, ollama, or gemini)", cfg.AI.Provider)
	}
	if strings.TrimSpace(cfg.AI.Model) == "" {
		return errors.New("config: ai.model is required")
	}
	if strings.TrimSpace(cfg.AI.EmbeddingModel) == "" {
		return errors.New("config: ai.embeddingModel is required")
	}
	return nil
}
