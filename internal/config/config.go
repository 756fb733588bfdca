package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Retrieval RetrievalConfig `yaml:"retrieval" mapstructure:"retrieval"`
	KB        KBConfig        `yaml:"kb" mapstructure:"kb"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	MaxTokens   int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PipelineConfig configures pipeline stage behavior.
type PipelineConfig struct {
	StructureConfidenceThreshold float64 `yaml:"structure_confidence_threshold" mapstructure:"structure_confidence_threshold"`
	GenerationConcurrency        int     `yaml:"generation_concurrency" mapstructure:"generation_concurrency"`
	GenerationRatePerSec         float64 `yaml:"generation_rate_per_sec" mapstructure:"generation_rate_per_sec"`
	MaxQuestionsPerRequirement   int     `yaml:"max_questions_per_requirement" mapstructure:"max_questions_per_requirement"`
	RetrievalChunks              int     `yaml:"retrieval_chunks" mapstructure:"retrieval_chunks"`
	QualityEnabled               bool    `yaml:"quality_enabled" mapstructure:"quality_enabled"`
	MaxRequirementChars          int     `yaml:"max_requirement_chars" mapstructure:"max_requirement_chars"`
}

// RetrievalConfig configures the reference document index.
type RetrievalConfig struct {
	IndexPath  string `yaml:"index_path" mapstructure:"index_path"`
	CorpusDir  string `yaml:"corpus_dir" mapstructure:"corpus_dir"`
	MaxResults int    `yaml:"max_results" mapstructure:"max_results"`
}

// KBConfig configures the company knowledge base.
type KBConfig struct {
	ProfilePath string `yaml:"profile_path" mapstructure:"profile_path"`
}

// ExtractConfig configures document text extraction.
type ExtractConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks config invariants for the given mode ("pipeline" for
// commands that call the LLM, "serve" for the HTTP server, "local" for
// commands that only touch the store). Returns all problems joined into
// a single error.
func (c *Config) Validate(mode string) error {
	var missing []string

	checkCommon := func() {
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" && c.Store.Driver != "memory" {
			missing = append(missing, "store.driver must be sqlite, postgres, or memory")
		}
		if c.Store.Driver != "memory" && c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
		if t := c.Pipeline.StructureConfidenceThreshold; t < 0 || t > 1 {
			missing = append(missing, "pipeline.structure_confidence_threshold must be between 0 and 1")
		}
		if n := c.Pipeline.GenerationConcurrency; n < 1 || n > 32 {
			missing = append(missing, "pipeline.generation_concurrency must be between 1 and 32")
		}
	}

	switch mode {
	case "pipeline":
		checkCommon()
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
	case "serve":
		checkCommon()
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	case "local":
		checkCommon()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(missing, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RFP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "rfp.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("pipeline.structure_confidence_threshold", 0.6)
	v.SetDefault("pipeline.generation_concurrency", 4)
	v.SetDefault("pipeline.generation_rate_per_sec", 2.0)
	v.SetDefault("pipeline.max_questions_per_requirement", 1)
	v.SetDefault("pipeline.retrieval_chunks", 4)
	v.SetDefault("pipeline.quality_enabled", true)
	v.SetDefault("pipeline.max_requirement_chars", 4000)
	v.SetDefault("retrieval.index_path", "reference.db")
	v.SetDefault("retrieval.max_results", 5)
	v.SetDefault("kb.profile_path", "company_profile.yaml")
	v.SetDefault("extract.pdftotext_path", "pdftotext")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
