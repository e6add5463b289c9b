// Package config loads tic43 settings from defaults, an optional YAML file,
// a .env file and TIC43_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/tfvieira/tic43/internal/llm"
	"github.com/tfvieira/tic43/internal/observability"
)

// EnvPrefix prefixes every environment override, e.g. TIC43_EVALUATOR_WORKERS.
const EnvPrefix = "TIC43"

// Config is the full application configuration.
type Config struct {
	LLM           LLMConfig            `mapstructure:"llm" yaml:"llm"`
	Models        ModelsConfig         `mapstructure:"models" yaml:"models"`
	Stage         StageConfig          `mapstructure:"stage" yaml:"stage"`
	Evaluator     EvaluatorConfig      `mapstructure:"evaluator" yaml:"evaluator"`
	Refiner       RefinerConfig        `mapstructure:"refiner" yaml:"refiner"`
	Prompts       PromptsConfig        `mapstructure:"prompts" yaml:"prompts"`
	Observability observability.Config `mapstructure:"observability" yaml:"observability"`
	Server        ServerConfig         `mapstructure:"server" yaml:"server"`
}

// LLMConfig describes the OpenAI-compatible endpoint shared by all stages.
type LLMConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"` // 0 disables retry and the breaker
}

// ClientConfig converts c into the llm package's client settings.
func (c LLMConfig) ClientConfig() llm.Config {
	return llm.Config{
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		Timeout:    c.TimeoutSeconds,
		MaxRetries: c.MaxRetries,
	}
}

// ModelsConfig selects a model per capability.
type ModelsConfig struct {
	Generator   string `mapstructure:"generator" yaml:"generator"`
	Judge       string `mapstructure:"judge" yaml:"judge"`
	Planner     string `mapstructure:"planner" yaml:"planner"`
	Implementer string `mapstructure:"implementer" yaml:"implementer"`
	Reviewer    string `mapstructure:"reviewer" yaml:"reviewer"`
}

// StageConfig applies to every LLM-backed stage.
type StageConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"` // 0 means no per-stage deadline
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
}

// EvaluatorConfig drives `tic43 eval`.
type EvaluatorConfig struct {
	Workers    int      `mapstructure:"workers" yaml:"workers"`
	DataDir    string   `mapstructure:"data_dir" yaml:"data_dir"`
	OutputDir  string   `mapstructure:"output_dir" yaml:"output_dir"`
	SQLitePath string   `mapstructure:"sqlite_path" yaml:"sqlite_path"` // empty disables the SQLite sink
	Datasets   []string `mapstructure:"datasets" yaml:"datasets"`
}

// RefinerConfig drives `tic43 refine`.
type RefinerConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// PromptsConfig points at an optional directory of prompt overrides.
type PromptsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// ServerConfig drives `tic43 serve`.
type ServerConfig struct {
	Addr          string `mapstructure:"addr" yaml:"addr"`
	RecentResults int    `mapstructure:"recent_results" yaml:"recent_results"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			TimeoutSeconds: 120,
			MaxRetries:     0,
		},
		Models: ModelsConfig{
			Generator:   "gpt-4o-mini",
			Judge:       "gpt-4o-mini",
			Planner:     "o4-mini",
			Implementer: "gpt-4o-mini",
			Reviewer:    "gpt-4o-mini",
		},
		Stage: StageConfig{
			Timeout:     0,
			Temperature: 0,
		},
		Evaluator: EvaluatorConfig{
			Workers:   3,
			DataDir:   "data",
			OutputDir: "eval",
			Datasets: []string{
				"basic_questions",
				"domain_specific_questions",
				"adversarial_questions",
			},
		},
		Refiner: RefinerConfig{
			MaxAttempts: 3,
		},
		Observability: observability.DefaultConfig(),
		Server: ServerConfig{
			Addr:          ":8080",
			RecentResults: 128,
		},
	}
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.timeout_seconds", d.LLM.TimeoutSeconds)
	v.SetDefault("llm.max_retries", d.LLM.MaxRetries)

	v.SetDefault("models.generator", d.Models.Generator)
	v.SetDefault("models.judge", d.Models.Judge)
	v.SetDefault("models.planner", d.Models.Planner)
	v.SetDefault("models.implementer", d.Models.Implementer)
	v.SetDefault("models.reviewer", d.Models.Reviewer)

	v.SetDefault("stage.timeout", d.Stage.Timeout)
	v.SetDefault("stage.temperature", d.Stage.Temperature)

	v.SetDefault("evaluator.workers", d.Evaluator.Workers)
	v.SetDefault("evaluator.data_dir", d.Evaluator.DataDir)
	v.SetDefault("evaluator.output_dir", d.Evaluator.OutputDir)
	v.SetDefault("evaluator.sqlite_path", d.Evaluator.SQLitePath)
	v.SetDefault("evaluator.datasets", d.Evaluator.Datasets)

	v.SetDefault("refiner.max_attempts", d.Refiner.MaxAttempts)
	v.SetDefault("prompts.dir", d.Prompts.Dir)

	o := d.Observability
	v.SetDefault("observability.logging.level", o.Logging.Level)
	v.SetDefault("observability.logging.format", o.Logging.Format)
	v.SetDefault("observability.metrics.enabled", o.Metrics.Enabled)
	v.SetDefault("observability.metrics.prometheus_port", o.Metrics.PrometheusPort)
	v.SetDefault("observability.tracing.enabled", o.Tracing.Enabled)
	v.SetDefault("observability.tracing.exporter", o.Tracing.Exporter)
	v.SetDefault("observability.tracing.otlp_endpoint", o.Tracing.OTLPEndpoint)
	v.SetDefault("observability.tracing.zipkin_endpoint", o.Tracing.ZipkinEndpoint)
	v.SetDefault("observability.tracing.sample_rate", o.Tracing.SampleRate)
	v.SetDefault("observability.tracing.service_name", o.Tracing.ServiceName)
	v.SetDefault("observability.tracing.service_version", o.Tracing.ServiceVersion)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.recent_results", d.Server.RecentResults)
}

// Options controls where New looks for configuration.
type Options struct {
	// File is an explicit config path. When empty, ./tic43.yaml and
	// $HOME/.tic43/config.yaml are searched.
	File string
	// EnvFile is loaded into the process environment before reading
	// overrides. Defaults to ".env"; a missing file is ignored.
	EnvFile string
	// LookupEnv reads the environment; os.LookupEnv when nil.
	LookupEnv func(string) (string, bool)
}

// New returns a viper instance with defaults, the config file and
// environment overrides registered.
func New(opts Options) (*viper.Viper, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := opts.File
	if file == "" {
		file = findConfigFile()
	}
	if file == "" {
		return v, nil
	}

	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// findConfigFile returns the first of ./tic43.yaml and
// $HOME/.tic43/config.yaml that exists, or "".
func findConfigFile() string {
	candidates := []string{"tic43.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".tic43", "config.yaml"))
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

func loadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	// Existing environment variables win over the file.
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load decodes v into a Config, applies the OPENAI_API_KEY fallback and
// validates the result.
func Load(v *viper.Viper, lookupEnv func(string) (string, bool)) (*Config, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		if key, ok := lookupEnv("OPENAI_API_KEY"); ok {
			cfg.LLM.APIKey = strings.TrimSpace(key)
		}
	}
	if v.GetString("llm.base_url") == Default().LLM.BaseURL {
		if base, ok := lookupEnv("OPENAI_BASE_URL"); ok && strings.TrimSpace(base) != "" {
			cfg.LLM.BaseURL = strings.TrimSpace(base)
		}
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

// LoadFrom is New followed by Load.
func LoadFrom(opts Options) (*Config, error) {
	v, err := New(opts)
	if err != nil {
		return nil, err
	}
	return Load(v, opts.LookupEnv)
}

// RequireAPIKey reports a missing credential for commands that call a model.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return ValidationErrors{{
			Field:   "llm.api_key",
			Value:   "",
			Message: "must be set (or export OPENAI_API_KEY / TIC43_LLM_API_KEY)",
		}}
	}
	return nil
}
