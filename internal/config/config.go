package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`

	// Auth
	DocsumAPIKey string `yaml:"api_key"`

	// Backend
	Provider        string        `yaml:"provider"` // openai, anthropic, azure, openai-compatible
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	AzureAPIKey     string        `yaml:"azure_api_key"`
	BaseURL         string        `yaml:"base_url"`
	SummaryModel    string        `yaml:"summary_model"`
	SynthesisModel  string        `yaml:"synthesis_model"`
	MaxAttempts     int           `yaml:"max_attempts"`
	MaxConcurrent   int           `yaml:"max_concurrent_calls"`
	RequestsPerSec  float64       `yaml:"requests_per_second"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`

	// Token budgets
	Tokenizer            string `yaml:"tokenizer"` // tiktoken or estimate
	SummaryContextSize   int    `yaml:"summary_context_size"`
	SynthesisContextSize int    `yaml:"synthesis_context_size"`
	TargetSummarySize    int    `yaml:"target_summary_size"`
	ChunkTokens          int    `yaml:"chunk_tokens"`
	DivisionMarker       string `yaml:"division_marker"`
	FanOut               int    `yaml:"fan_out"`
	MaxDepth             int    `yaml:"max_depth"`

	// Cache
	CachePath string `yaml:"cache_path"`
	CacheDSN  string `yaml:"cache_dsn"`

	// Worker pool
	WorkerCount  int `yaml:"worker_count"`
	MaxQueueSize int `yaml:"max_queue_size"`

	// Upload and fetch limits
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	MaxFetchBytes  int64         `yaml:"max_fetch_bytes"`

	// Job state
	JobTTL time.Duration `yaml:"job_ttl"`

	// PDF
	PDFFallbackPdftotext bool `yaml:"pdf_fallback_pdftotext"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port: "8090",

		Provider:       "openai",
		SummaryModel:   "gpt-3.5-turbo",
		SynthesisModel: "gpt-4",
		MaxAttempts:    3,
		MaxConcurrent:  8,
		BreakerTimeout: 30 * time.Second,

		Tokenizer:            "tiktoken",
		SummaryContextSize:   4097,
		SynthesisContextSize: 8192,
		TargetSummarySize:    1000,
		ChunkTokens:          3000,
		DivisionMarker:       ".",
		FanOut:               4,
		MaxDepth:             8,

		CachePath: "docsum-cache.log",

		WorkerCount:  2,
		MaxQueueSize: 100,

		MaxUploadBytes: 52428800, // 50MB
		FetchTimeout:   30 * time.Second,
		MaxFetchBytes:  20971520, // 20MB

		JobTTL: 1 * time.Hour,

		PDFFallbackPdftotext: true,
	}
}

// Load reads the YAML file at path when path is non-empty (falling back
// to DOCSUM_CONFIG), then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("DOCSUM_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = envOr("PORT", c.Port)

	c.DocsumAPIKey = envOr("DOCSUM_API_KEY", c.DocsumAPIKey)

	c.Provider = envOr("DOCSUM_PROVIDER", c.Provider)
	c.OpenAIAPIKey = envOr("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AzureAPIKey = envOr("AZURE_OPENAI_API_KEY", c.AzureAPIKey)
	c.BaseURL = envOr("DOCSUM_BASE_URL", c.BaseURL)
	c.SummaryModel = envOr("SUMMARY_MODEL", c.SummaryModel)
	c.SynthesisModel = envOr("SYNTHESIS_MODEL", c.SynthesisModel)
	c.MaxAttempts = envInt("MAX_ATTEMPTS", c.MaxAttempts)
	c.MaxConcurrent = envInt("MAX_CONCURRENT_CALLS", c.MaxConcurrent)
	c.RequestsPerSec = envFloat("REQUESTS_PER_SECOND", c.RequestsPerSec)
	c.BreakerTimeout = envDuration("BREAKER_TIMEOUT", c.BreakerTimeout)

	c.Tokenizer = envOr("TOKENIZER", c.Tokenizer)
	c.SummaryContextSize = envInt("SUMMARY_CONTEXT_SIZE", c.SummaryContextSize)
	c.SynthesisContextSize = envInt("SYNTHESIS_CONTEXT_SIZE", c.SynthesisContextSize)
	c.TargetSummarySize = envInt("TARGET_SUMMARY_SIZE", c.TargetSummarySize)
	c.ChunkTokens = envInt("CHUNK_TOKENS", c.ChunkTokens)
	c.DivisionMarker = envOr("DIVISION_MARKER", c.DivisionMarker)
	c.FanOut = envInt("FAN_OUT", c.FanOut)
	c.MaxDepth = envInt("MAX_DEPTH", c.MaxDepth)

	c.CachePath = envOr("CACHE_PATH", c.CachePath)
	c.CacheDSN = envOr("CACHE_DSN", c.CacheDSN)

	c.WorkerCount = envInt("WORKER_COUNT", c.WorkerCount)
	c.MaxQueueSize = envInt("MAX_QUEUE_SIZE", c.MaxQueueSize)

	c.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes)
	c.FetchTimeout = envDuration("FETCH_TIMEOUT", c.FetchTimeout)
	c.MaxFetchBytes = envInt64("MAX_FETCH_BYTES", c.MaxFetchBytes)

	c.JobTTL = envDuration("JOB_TTL", c.JobTTL)

	c.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", c.PDFFallbackPdftotext)
}

func (c *Config) fillDefaults() {
	d := Defaults()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.FanOut <= 0 {
		c.FanOut = d.FanOut
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
	if c.MaxFetchBytes <= 0 {
		c.MaxFetchBytes = d.MaxFetchBytes
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.JobTTL <= 0 {
		c.JobTTL = d.JobTTL
	}
}

// APIKey returns the key for the configured provider.
func (c Config) APIKey() string {
	switch c.Provider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "azure":
		return c.AzureAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

// Validate checks the backend settings. Server-only settings are checked
// by ValidateServer.
func (c Config) Validate() error {
	switch c.Provider {
	case "openai", "":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required")
		}
	case "azure":
		if c.AzureAPIKey == "" {
			return fmt.Errorf("AZURE_OPENAI_API_KEY is required")
		}
		if c.BaseURL == "" {
			return fmt.Errorf("DOCSUM_BASE_URL is required for azure")
		}
	case "openai-compatible":
		if c.BaseURL == "" {
			return fmt.Errorf("DOCSUM_BASE_URL is required for openai-compatible")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.TargetSummarySize <= 0 {
		return fmt.Errorf("TARGET_SUMMARY_SIZE must be positive")
	}
	if c.ChunkTokens <= 0 {
		return fmt.Errorf("CHUNK_TOKENS must be positive")
	}
	if c.SummaryContextSize <= c.TargetSummarySize {
		return fmt.Errorf("SUMMARY_CONTEXT_SIZE (%d) must exceed TARGET_SUMMARY_SIZE (%d)",
			c.SummaryContextSize, c.TargetSummarySize)
	}
	if c.SynthesisContextSize <= 0 {
		return fmt.Errorf("SYNTHESIS_CONTEXT_SIZE must be positive")
	}
	return nil
}

// ValidateServer also requires the API key that guards the HTTP routes.
func (c Config) ValidateServer() error {
	if c.DocsumAPIKey == "" {
		return errors.New("DOCSUM_API_KEY is required")
	}
	return c.Validate()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
