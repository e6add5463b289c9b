package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/tfvieira/tic43/evaluation/answer_eval"
	"github.com/tfvieira/tic43/internal/dataset"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the accepted observability.logging.level values.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the accepted observability.logging.format values.
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// ValidExporters returns the accepted observability.tracing.exporter values.
func ValidExporters() []string {
	return []string{"otlp", "zipkin"}
}

// Validate returns every invalid setting. A nil result means c is usable.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("llm.base_url", c.LLM.BaseURL, "must be an absolute URL")
		}
	}
	if c.LLM.TimeoutSeconds < 0 {
		add("llm.timeout_seconds", c.LLM.TimeoutSeconds, "must be >= 0")
	}
	if c.LLM.MaxRetries < 0 {
		add("llm.max_retries", c.LLM.MaxRetries, "must be >= 0")
	}

	models := map[string]string{
		"models.generator":   c.Models.Generator,
		"models.judge":       c.Models.Judge,
		"models.planner":     c.Models.Planner,
		"models.implementer": c.Models.Implementer,
		"models.reviewer":    c.Models.Reviewer,
	}
	fields := make([]string, 0, len(models))
	for field := range models {
		fields = append(fields, field)
	}
	slices.Sort(fields)
	for _, field := range fields {
		if strings.TrimSpace(models[field]) == "" {
			add(field, models[field], "must not be empty")
		}
	}

	if c.Stage.Timeout < 0 {
		add("stage.timeout", c.Stage.Timeout, "must be >= 0")
	}
	if c.Stage.Temperature < 0 || c.Stage.Temperature > 2 {
		add("stage.temperature", c.Stage.Temperature, "must be between 0 and 2")
	}

	if c.Evaluator.Workers < 1 || c.Evaluator.Workers > answer_eval.MaxWorkers {
		add("evaluator.workers", c.Evaluator.Workers, fmt.Sprintf("must be between 1 and %d", answer_eval.MaxWorkers))
	}
	if strings.TrimSpace(c.Evaluator.DataDir) == "" {
		add("evaluator.data_dir", c.Evaluator.DataDir, "must not be empty")
	}
	if strings.TrimSpace(c.Evaluator.OutputDir) == "" {
		add("evaluator.output_dir", c.Evaluator.OutputDir, "must not be empty")
	}
	for _, name := range c.Evaluator.Datasets {
		if err := dataset.ValidateName(name); err != nil {
			add("evaluator.datasets", name, err.Error())
		}
	}

	if c.Refiner.MaxAttempts < 1 {
		add("refiner.max_attempts", c.Refiner.MaxAttempts, "must be >= 1")
	}

	o := c.Observability
	if !slices.Contains(ValidLogLevels(), strings.ToLower(o.Logging.Level)) {
		add("observability.logging.level", o.Logging.Level, "must be one of "+strings.Join(ValidLogLevels(), ", "))
	}
	if !slices.Contains(ValidLogFormats(), strings.ToLower(o.Logging.Format)) {
		add("observability.logging.format", o.Logging.Format, "must be one of "+strings.Join(ValidLogFormats(), ", "))
	}
	if o.Metrics.Enabled && (o.Metrics.PrometheusPort < 0 || o.Metrics.PrometheusPort > 65535) {
		add("observability.metrics.prometheus_port", o.Metrics.PrometheusPort, "must be a valid port (0 disables the listener)")
	}
	if o.Tracing.Enabled {
		if !slices.Contains(ValidExporters(), o.Tracing.Exporter) {
			add("observability.tracing.exporter", o.Tracing.Exporter, "must be one of "+strings.Join(ValidExporters(), ", "))
		}
		if o.Tracing.SampleRate < 0 || o.Tracing.SampleRate > 1 {
			add("observability.tracing.sample_rate", o.Tracing.SampleRate, "must be between 0 and 1")
		}
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		add("server.addr", c.Server.Addr, "must not be empty")
	}
	if c.Server.RecentResults < 1 {
		add("server.recent_results", c.Server.RecentResults, "must be >= 1")
	}

	return errs
}
