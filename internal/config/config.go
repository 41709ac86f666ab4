// File: internal/config/config.go
package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`
	LLM    LLMConfig    `mapstructure:"llm" yaml:"llm"`
	Sink   SinkConfig   `mapstructure:"sink" yaml:"sink"`
	Run    RunConfig    `mapstructure:"run" yaml:"run"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig configures the tournament engine itself.
type EngineConfig struct {
	UseCase                 string                  `mapstructure:"use_case" yaml:"use_case"`
	ProcessDepth            schemas.ProcessDepth    `mapstructure:"process_depth" yaml:"process_depth"`
	CustomPhases            []schemas.Phase         `mapstructure:"custom_phases" yaml:"custom_phases"`
	PopulationScale         schemas.PopulationScale `mapstructure:"population_scale" yaml:"population_scale"`
	DirectionsOverride      int                     `mapstructure:"directions_override" yaml:"directions_override"`
	ScenariosOverride       int                     `mapstructure:"scenarios_override" yaml:"scenarios_override"`
	ReflectionDomains       []string                `mapstructure:"reflection_domains" yaml:"reflection_domains"`
	EvolutionStrategies     []string                `mapstructure:"evolution_strategies" yaml:"evolution_strategies"`
	MinQualityThreshold     float64                 `mapstructure:"min_quality_threshold" yaml:"min_quality_threshold"`
	MinSurvivingDirections  int                     `mapstructure:"min_surviving_directions" yaml:"min_surviving_directions"`
	TournamentRounds        int                     `mapstructure:"tournament_rounds" yaml:"tournament_rounds"`
	EnableParallelExecution bool                    `mapstructure:"enable_parallel_execution" yaml:"enable_parallel_execution"`
	WorkerConcurrency       int                     `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
}

// Concurrency returns the effective worker pool size for fan-out phases.
func (e EngineConfig) Concurrency() int {
	if !e.EnableParallelExecution {
		return 1
	}
	return e.WorkerConcurrency
}

// LLMProvider defines the supported provider backends.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderGoogle LLMProvider = "google"
)

// LLMConfig configures access to the generative content provider.
type LLMConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	RatePerSec  float64       `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
	Isolated    bool          `mapstructure:"isolated" yaml:"isolated"`
}

// SinkConfig selects the optional archival sink.
type SinkConfig struct {
	Type     string         `mapstructure:"type" yaml:"type"` // "noop" or "postgres"
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds connection details for the Postgres sink.
type PostgresConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// RunConfig holds per-invocation settings populated from CLI flags rather
// than the config file.
type RunConfig struct {
	TaskDescription string
	DomainContext   string
	Output          string
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults always unmarshal; a failure here is a programming error.
		panic(err)
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "crucible")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.use_case", "general")
	v.SetDefault("engine.process_depth", string(schemas.DepthStandard))
	v.SetDefault("engine.population_scale", string(schemas.ScaleMedium))
	v.SetDefault("engine.min_quality_threshold", 60.0)
	v.SetDefault("engine.min_surviving_directions", 1)
	v.SetDefault("engine.tournament_rounds", 10)
	v.SetDefault("engine.enable_parallel_execution", true)
	v.SetDefault("engine.worker_concurrency", 8)

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "gemini-2.5-pro")
	v.SetDefault("llm.api_timeout", "300s")
	v.SetDefault("llm.temperature", 0.9)
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.base_delay", "1s")
	v.SetDefault("llm.rate_per_sec", 4.0)
	v.SetDefault("llm.isolated", true)

	// -- Sink --
	v.SetDefault("sink.type", "noop")
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Sensitive values come from the environment, never the config file.
	v.BindEnv("llm.api_key", "CRUCIBLE_LLM_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("sink.postgres.url", "CRUCIBLE_SINK_PG_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &schemas.ConfigurationError{Field: "config", Reason: err.Error()}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values. It
// runs before any provider call so misconfiguration fails the run at startup.
func (c *Config) Validate() error {
	if c.Engine.WorkerConcurrency <= 0 {
		return &schemas.ConfigurationError{Field: "engine.worker_concurrency", Reason: "must be a positive integer"}
	}
	if c.Engine.DirectionsOverride < 0 {
		return &schemas.ConfigurationError{Field: "engine.directions_override", Reason: "must not be negative"}
	}
	if c.Engine.ScenariosOverride < 0 {
		return &schemas.ConfigurationError{Field: "engine.scenarios_override", Reason: "must not be negative"}
	}
	if c.Engine.MinSurvivingDirections <= 0 {
		return &schemas.ConfigurationError{Field: "engine.min_surviving_directions", Reason: "must be a positive integer"}
	}
	if c.Engine.TournamentRounds <= 0 {
		return &schemas.ConfigurationError{Field: "engine.tournament_rounds", Reason: "must be a positive integer"}
	}
	if c.Engine.ProcessDepth == schemas.DepthCustom && len(c.Engine.CustomPhases) == 0 {
		return &schemas.ConfigurationError{Field: "engine.custom_phases", Reason: "required when process_depth is custom"}
	}
	known := make(map[schemas.Phase]struct{}, len(schemas.CanonicalPhaseOrder))
	for _, p := range schemas.CanonicalPhaseOrder {
		known[p] = struct{}{}
	}
	for _, p := range c.Engine.CustomPhases {
		if _, ok := known[p]; !ok {
			return &schemas.ConfigurationError{Field: "engine.custom_phases", Reason: "unknown phase " + string(p)}
		}
	}
	if c.LLM.MaxRetries < 0 {
		return &schemas.ConfigurationError{Field: "llm.max_retries", Reason: "must not be negative"}
	}
	if c.LLM.APITimeout <= 0 {
		return &schemas.ConfigurationError{Field: "llm.api_timeout", Reason: "must be a positive duration"}
	}
	switch c.Sink.Type {
	case "", "noop":
	case "postgres":
		if c.Sink.Postgres.URL == "" {
			return &schemas.ConfigurationError{Field: "sink.postgres.url", Reason: "required when sink.type is postgres"}
		}
	default:
		return &schemas.ConfigurationError{Field: "sink.type", Reason: "must be noop or postgres"}
	}
	return nil
}
