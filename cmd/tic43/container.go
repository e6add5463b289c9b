package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tfvieira/tic43/evaluation/answer_eval"
	"github.com/tfvieira/tic43/internal/config"
	"github.com/tfvieira/tic43/internal/dataset"
	"github.com/tfvieira/tic43/internal/llm"
	"github.com/tfvieira/tic43/internal/logging"
	"github.com/tfvieira/tic43/internal/observability"
	"github.com/tfvieira/tic43/internal/prompts"
	"github.com/tfvieira/tic43/internal/refiner"
	"github.com/tfvieira/tic43/internal/sink"
	"github.com/tfvieira/tic43/internal/stage"
	"github.com/tfvieira/tic43/internal/verdict"
)

// Container holds the wired collaborators of one CLI invocation.
type Container struct {
	Config  *config.Config
	Logger  logging.Logger
	Metrics *observability.MetricsCollector
	Tracer  *observability.TracerProvider
	Prompts *prompts.PromptLoader

	sqlite *sink.SQLite

	// newClient is swapped in tests.
	newClient func(model string, cfg llm.Config) (llm.Client, error)
}

// buildContainer loads configuration and sets up logging, metrics and
// tracing. Configuration problems are usage errors.
func buildContainer(opts *globalOptions) (*Container, error) {
	cfg, err := config.LoadFrom(config.Options{File: opts.configFile, EnvFile: opts.envFile})
	if err != nil {
		return nil, usageError(err)
	}
	if opts.verbose {
		cfg.Observability.Logging.Level = "debug"
	}

	logging.Configure(observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}))
	logger := logging.NewComponentLogger("cli")

	metrics, err := observability.NewMetricsCollector(cfg.Observability.Metrics)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	tracer, err := observability.NewTracerProvider(cfg.Observability.Tracing)
	if err != nil {
		return nil, usageError(fmt.Errorf("init tracing: %w", err))
	}

	loader, err := prompts.NewPromptLoader(cfg.Prompts.Dir)
	if err != nil {
		return nil, usageError(err)
	}
	if err := checkPrompts(loader); err != nil {
		return nil, usageError(err)
	}

	return &Container{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
		Prompts:   loader,
		newClient: llm.NewClient,
	}, nil
}

// checkPrompts fails when an override directory leaves a capability
// without a system prompt.
func checkPrompts(loader *prompts.PromptLoader) error {
	for _, capability := range stage.Capabilities() {
		tmpl, err := loader.GetPrompt(string(capability))
		if err != nil {
			return err
		}
		if tmpl.Content == "" {
			return fmt.Errorf("prompt %s is empty (%s)", capability, tmpl.Source)
		}
	}
	return nil
}

// Shutdown flushes telemetry and closes the result store.
func (c *Container) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	if c.sqlite != nil {
		errs = append(errs, c.sqlite.Close())
	}
	errs = append(errs, c.Metrics.Shutdown(ctx), c.Tracer.Shutdown(ctx))
	return errors.Join(errs...)
}

func (c *Container) modelFor(capability stage.Capability) string {
	m := c.Config.Models
	switch capability {
	case stage.Generator:
		return m.Generator
	case stage.Judge:
		return m.Judge
	case stage.Planner:
		return m.Planner
	case stage.Implementer:
		return m.Implementer
	default:
		return m.Reviewer
	}
}

func (c *Container) systemPrompt(capability stage.Capability) (string, error) {
	vars := map[string]string{}
	if capability == stage.Judge {
		lines := make([]string, 0, len(verdict.Ratings()))
		for _, r := range verdict.Ratings() {
			lines = append(lines, "- "+string(r))
		}
		vars["Ratings"] = strings.Join(lines, "\n")
	}
	return c.Prompts.RenderPrompt(string(capability), vars)
}

// Stage builds the LLM-backed stage of one capability.
func (c *Container) Stage(capability stage.Capability) (stage.Stage, error) {
	if err := c.Config.RequireAPIKey(); err != nil {
		return nil, usageError(err)
	}
	client, err := c.newClient(c.modelFor(capability), c.Config.LLM.ClientConfig())
	if err != nil {
		return nil, usageError(fmt.Errorf("%s client: %w", capability, err))
	}
	prompt, err := c.systemPrompt(capability)
	if err != nil {
		return nil, err
	}
	return stage.NewLLMStage(capability, client, prompt,
		stage.WithTimeout(c.Config.Stage.Timeout),
		stage.WithTemperature(c.Config.Stage.Temperature),
		stage.WithMetrics(c.Metrics),
		stage.WithTracer(c.Tracer),
	), nil
}

// Evaluator wires the generator and judge stages.
func (c *Container) Evaluator() (*answer_eval.Evaluator, error) {
	generator, err := c.Stage(stage.Generator)
	if err != nil {
		return nil, err
	}
	judge, err := c.Stage(stage.Judge)
	if err != nil {
		return nil, err
	}
	return answer_eval.New(generator, judge,
		answer_eval.WithMetrics(c.Metrics),
		answer_eval.WithTracer(c.Tracer),
	), nil
}

// Refiner wires the planner, implementer and reviewer stages.
func (c *Container) Refiner(observers ...refiner.Observer) (*refiner.Refiner, error) {
	var built [3]stage.Stage
	for i, capability := range []stage.Capability{stage.Planner, stage.Implementer, stage.Reviewer} {
		s, err := c.Stage(capability)
		if err != nil {
			return nil, err
		}
		built[i] = s
	}
	opts := []refiner.Option{
		refiner.WithMetrics(c.Metrics),
		refiner.WithTracer(c.Tracer),
	}
	for _, o := range observers {
		opts = append(opts, refiner.WithObserver(o))
	}
	return refiner.New(built[0], built[1], built[2], opts...), nil
}

// Source reads datasets from the configured data directory.
func (c *Container) Source() dataset.Source {
	return dataset.NewFileSource(c.Config.Evaluator.DataDir)
}

// Sink returns the CSV sink, plus the SQLite sink when a path is configured.
func (c *Container) Sink() (sink.Sink, error) {
	sinks := sink.Multi{sink.NewCSV(c.Config.Evaluator.OutputDir)}
	store, err := c.ResultStore()
	if err != nil {
		return nil, err
	}
	if store != nil {
		sinks = append(sinks, store)
	}
	return sinks, nil
}

// ResultStore opens the SQLite store once. It is nil when no path is set.
func (c *Container) ResultStore() (*sink.SQLite, error) {
	if c.sqlite != nil || c.Config.Evaluator.SQLitePath == "" {
		return c.sqlite, nil
	}
	store, err := sink.OpenSQLite(c.Config.Evaluator.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	c.sqlite = store
	return store, nil
}
