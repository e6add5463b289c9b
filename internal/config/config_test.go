package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// isolate runs the test from an empty directory so no stray tic43.yaml or
// .env is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Evaluator.Workers)
	assert.Equal(t, 3, cfg.Refiner.MaxAttempts)
	assert.Equal(t, []string{"basic_questions", "domain_specific_questions", "adversarial_questions"}, cfg.Evaluator.Datasets)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadFrom(Options{LookupEnv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, Default().Models, cfg.Models)
	assert.Equal(t, "data", cfg.Evaluator.DataDir)
	assert.Equal(t, "eval", cfg.Evaluator.OutputDir)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  judge: gpt-4o
stage:
  timeout: 45s
evaluator:
  workers: 8
  datasets: [smoke]
refiner:
  max_attempts: 5
`), 0o644))

	cfg, err := LoadFrom(Options{File: path, LookupEnv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Models.Judge)
	assert.Equal(t, "gpt-4o-mini", cfg.Models.Generator)
	assert.Equal(t, 45*time.Second, cfg.Stage.Timeout)
	assert.Equal(t, 8, cfg.Evaluator.Workers)
	assert.Equal(t, []string{"smoke"}, cfg.Evaluator.Datasets)
	assert.Equal(t, 5, cfg.Refiner.MaxAttempts)
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tic43.yaml"), []byte("refiner:\n  max_attempts: 7\n"), 0o644))

	cfg, err := LoadFrom(Options{LookupEnv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Refiner.MaxAttempts)
}

func TestLoadSearchesHomeDirectory(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".tic43"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tic43", "config.yaml"), []byte("evaluator:\n  workers: 6\n"), 0o644))

	cfg, err := LoadFrom(Options{LookupEnv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Evaluator.Workers)

	// The working directory wins over the home directory.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tic43.yaml"), []byte("evaluator:\n  workers: 2\n"), 0o644))
	cfg, err = LoadFrom(Options{LookupEnv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Evaluator.Workers)
}

func TestExplicitMissingFileIsAnError(t *testing.T) {
	dir := isolate(t)
	_, err := LoadFrom(Options{File: filepath.Join(dir, "nope.yaml"), LookupEnv: noEnv})
	require.Error(t, err)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "tic43.yaml")
	require.NoError(t, os.WriteFile(path, []byte("evaluator:\n  workers: 8\n"), 0o644))
	t.Setenv("TIC43_EVALUATOR_WORKERS", "12")
	t.Setenv("TIC43_OBSERVABILITY_LOGGING_LEVEL", "debug")

	cfg, err := LoadFrom(Options{File: path, LookupEnv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Evaluator.Workers)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
}

func TestDotEnvFileIsLoaded(t *testing.T) {
	dir := isolate(t)
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("TIC43_REFINER_MAX_ATTEMPTS=4\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("TIC43_REFINER_MAX_ATTEMPTS") })

	cfg, err := LoadFrom(Options{EnvFile: envFile, LookupEnv: noEnv})
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Refiner.MaxAttempts)
}

func TestOpenAIAPIKeyFallback(t *testing.T) {
	isolate(t)

	cfg, err := LoadFrom(Options{LookupEnv: envMap(map[string]string{
		"OPENAI_API_KEY":  " sk-test ",
		"OPENAI_BASE_URL": "http://localhost:11434/v1",
	})})
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	assert.NoError(t, cfg.RequireAPIKey())
}

func TestExplicitAPIKeyWins(t *testing.T) {
	isolate(t)
	t.Setenv("TIC43_LLM_API_KEY", "sk-explicit")

	cfg, err := LoadFrom(Options{LookupEnv: envMap(map[string]string{"OPENAI_API_KEY": "sk-fallback"})})
	require.NoError(t, err)
	assert.Equal(t, "sk-explicit", cfg.LLM.APIKey)
}

func TestRequireAPIKey(t *testing.T) {
	cfg := Default()
	err := cfg.RequireAPIKey()
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "llm.api_key", verrs[0].Field)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("evaluator:\n  workers: 0\nrefiner:\n  max_attempts: 0\n"), 0o644))

	_, err := LoadFrom(Options{File: path, LookupEnv: noEnv})
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)
	assert.Contains(t, err.Error(), "2 validation errors")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"workers too high", func(c *Config) { c.Evaluator.Workers = 65 }, "evaluator.workers"},
		{"bad dataset name", func(c *Config) { c.Evaluator.Datasets = []string{"../etc"} }, "evaluator.datasets"},
		{"empty model", func(c *Config) { c.Models.Reviewer = " " }, "models.reviewer"},
		{"relative base url", func(c *Config) { c.LLM.BaseURL = "api.openai.com" }, "llm.base_url"},
		{"negative retries", func(c *Config) { c.LLM.MaxRetries = -1 }, "llm.max_retries"},
		{"negative stage timeout", func(c *Config) { c.Stage.Timeout = -time.Second }, "stage.timeout"},
		{"unknown log level", func(c *Config) { c.Observability.Logging.Level = "verbose" }, "observability.logging.level"},
		{"unknown log format", func(c *Config) { c.Observability.Logging.Format = "xml" }, "observability.logging.format"},
		{"unknown exporter", func(c *Config) {
			c.Observability.Tracing.Enabled = true
			c.Observability.Tracing.Exporter = "jaeger"
		}, "observability.tracing.exporter"},
		{"empty server addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"zero cache size", func(c *Config) { c.Server.RecentResults = 0 }, "server.recent_results"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestClientConfig(t *testing.T) {
	c := LLMConfig{BaseURL: "http://x/v1", APIKey: "k", TimeoutSeconds: 5, MaxRetries: 2}
	got := c.ClientConfig()
	assert.Equal(t, "http://x/v1", got.BaseURL)
	assert.Equal(t, "k", got.APIKey)
	assert.Equal(t, 5, got.Timeout)
	assert.Equal(t, 2, got.MaxRetries)
}
