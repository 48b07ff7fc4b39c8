// Package config handles loading and validating the docudive configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration for the docudive backend.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Index     IndexConfig     `mapstructure:"index"`
	TTS       TTSConfig       `mapstructure:"tts"`
	Podcast   PodcastConfig   `mapstructure:"podcast"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the API and health server settings.
type ServerConfig struct {
	APIPort    int `mapstructure:"api_port"`
	HealthPort int `mapstructure:"health_port"`

	// PublicBaseURL is the externally reachable base URL used to build
	// download links (e.g. "http://localhost:5123/"). When empty, links are
	// derived from the Host header of the submitting request.
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// LLMConfig selects the default completion backend and configures each provider.
type LLMConfig struct {
	DefaultProvider string       `mapstructure:"default_provider"` // "gemini", "groq", or "ollama"
	DefaultModel    string       `mapstructure:"default_model"`
	Gemini          GeminiConfig `mapstructure:"gemini"`
	Groq            GroqConfig   `mapstructure:"groq"`
	Ollama          OllamaConfig `mapstructure:"ollama"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// GroqConfig holds Groq API settings (OpenAI-compatible chat endpoint).
type GroqConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

// OllamaConfig holds self-hosted Ollama settings.
type OllamaConfig struct {
	Host  string `mapstructure:"host"` // e.g. "http://localhost:11434"
	Model string `mapstructure:"model"`
}

// EmbeddingConfig configures the embedding endpoint used by the vector index.
type EmbeddingConfig struct {
	Endpoint string `mapstructure:"endpoint"` // Ollama-style /api/embeddings URL
	Model    string `mapstructure:"model"`
}

// IndexConfig configures per-user vector index storage and retrieval.
type IndexConfig struct {
	Dir          string `mapstructure:"dir"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	DefaultK     int    `mapstructure:"default_k"`
	DefaultUser  string `mapstructure:"default_user"`
}

// TTSConfig configures the two podcast voice engines.
type TTSConfig struct {
	// Translate endpoint for the cloud voice. The tld picks the accent
	// (e.g. "co.uk" for a British voice).
	TranslateEndpoint string `mapstructure:"translate_endpoint"`
	TranslateTLD      string `mapstructure:"translate_tld"`

	// Local engine for the male voice.
	EspeakBin   string `mapstructure:"espeak_bin"`
	EspeakVoice string `mapstructure:"espeak_voice"`
	RateMin     int    `mapstructure:"rate_min"` // words per minute
	RateMax     int    `mapstructure:"rate_max"`
}

// PodcastConfig configures the audio pipeline.
type PodcastConfig struct {
	OutputDir       string  `mapstructure:"output_dir"`
	FFmpegBin       string  `mapstructure:"ffmpeg_bin"`
	Bitrate         string  `mapstructure:"bitrate"`           // final MP3 bitrate
	CloudVoiceSpeed float64 `mapstructure:"cloud_voice_speed"` // atempo factor for the cloud voice
	MaxScriptChars  int     `mapstructure:"max_script_chars"`
	WorkerLimit     int     `mapstructure:"worker_limit"`
}

// JobsConfig selects the task store backend.
type JobsConfig struct {
	Store        string `mapstructure:"store"` // "memory" or "redis"
	RedisAddr    string `mapstructure:"redis_addr"`
	TaskTTLHours int    `mapstructure:"task_ttl_hours"` // redis store only
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./docudive.yaml, ./configs/docudive.yaml,
// /etc/docudive/docudive.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.api_port", 5123)
	v.SetDefault("server.health_port", 5124)
	v.SetDefault("server.public_base_url", "")
	v.SetDefault("llm.default_provider", "gemini")
	v.SetDefault("llm.default_model", "")
	v.SetDefault("llm.gemini.model", "gemini-1.5-flash-latest")
	v.SetDefault("llm.groq.endpoint", "https://api.groq.com/openai/v1/chat/completions")
	v.SetDefault("llm.groq.model", "llama-3.1-8b-instant")
	v.SetDefault("llm.ollama.host", "http://localhost:11434")
	v.SetDefault("llm.ollama.model", "llama3")
	v.SetDefault("embedding.endpoint", "http://localhost:11434/api/embeddings")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("index.dir", "data/indices")
	v.SetDefault("index.chunk_size", 1000)
	v.SetDefault("index.chunk_overlap", 150)
	v.SetDefault("index.default_k", 5)
	v.SetDefault("index.default_user", "default")
	v.SetDefault("tts.translate_endpoint", "https://translate.google.com/translate_tts")
	v.SetDefault("tts.translate_tld", "co.uk")
	v.SetDefault("tts.espeak_bin", "espeak-ng")
	v.SetDefault("tts.espeak_voice", "en+m3")
	v.SetDefault("tts.rate_min", 140)
	v.SetDefault("tts.rate_max", 155)
	v.SetDefault("podcast.output_dir", "data/generated_podcasts")
	v.SetDefault("podcast.ffmpeg_bin", "ffmpeg")
	v.SetDefault("podcast.bitrate", "192k")
	v.SetDefault("podcast.cloud_voice_speed", 1.1)
	v.SetDefault("podcast.max_script_chars", 12000)
	v.SetDefault("podcast.worker_limit", 4)
	v.SetDefault("jobs.store", "memory")
	v.SetDefault("jobs.redis_addr", "localhost:6379")
	v.SetDefault("jobs.task_ttl_hours", 24)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("docudive")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/docudive")
	}

	// Environment variables: DOCUDIVE_SERVER_API_PORT, DOCUDIVE_LLM_DEFAULT_PROVIDER, etc.
	v.SetEnvPrefix("DOCUDIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional — env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${GEMINI_API_KEY}")
	cfg.LLM.Gemini.APIKey = resolveEnvRef(cfg.LLM.Gemini.APIKey)
	cfg.LLM.Groq.APIKey = resolveEnvRef(cfg.LLM.Groq.APIKey)

	return &cfg, nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
