// Package webpilot provides a top-level convenience entry point that
// assembles the whole platform from one configuration.
//
// Usage:
//
//	import "github.com/webpilot-ai/webpilot"
//
//	cfg, err := config.Load("")
//	wp, err := webpilot.New(cfg, logger)
//	defer wp.Close(context.Background())
//	result := wp.Executor.RunTask(ctx, task)
//	outcome, err := wp.Agent.Run(ctx, "buy the cheapest usb hub")
//
// Embedders that only want a subset can construct the individual
// packages directly; New is just the standard wiring.
package webpilot

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/agent"
	"github.com/webpilot-ai/webpilot/config"
	"github.com/webpilot-ai/webpilot/driver"
	"github.com/webpilot-ai/webpilot/executor"
	"github.com/webpilot-ai/webpilot/internal/metrics"
	"github.com/webpilot-ai/webpilot/internal/telemetry"
	"github.com/webpilot-ai/webpilot/llm"
	"github.com/webpilot-ai/webpilot/pool"
	"github.com/webpilot-ai/webpilot/resolver"
)

// Client bundles the assembled platform components.
type Client struct {
	Config   *config.Config
	Pool     *pool.Pool
	Executor *executor.Executor
	Agent    *agent.Agent
	Planner  *agent.Planner
	LLM      *llm.OpenAIClient
	Metrics  *metrics.Collector
	Registry *prometheus.Registry

	driver *driver.ChromeDriver
	otel   *telemetry.Providers
	logger *zap.Logger
}

// New wires a complete platform: browser driver, session pool, resolver,
// executor, adaptive agent and planner, plus metrics and tracing.
func New(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry initialization failed", zap.Error(err))
		otelProviders = &telemetry.Providers{}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector("webpilot", registry, logger)

	drv := driver.NewChromeDriver(cfg.Browser, logger)
	p := pool.New(cfg.Pool, drv, logger)

	client := llm.NewOpenAIClient(cfg.LLM, logger)
	var vision llm.VisionClient
	if cfg.Vision.Enabled {
		vision = client
	}

	exec := executor.New(executor.Options{
		Pool:        p,
		Resolver:    resolver.New(client, vision, cfg.Vision, logger),
		Config:      cfg.Executor,
		LLMBudget:   cfg.LLM.MaxCallsPerTask,
		Screenshots: executor.NewSaver(cfg.Browser.ScreenshotDir, logger),
		Metrics:     collector,
		Logger:      logger,
	})

	return &Client{
		Config:   cfg,
		Pool:     p,
		Executor: exec,
		Agent:    agent.New(exec, p, client, cfg.Agent, logger),
		Planner:  agent.NewPlanner(client, cfg.Log.Dir, logger),
		LLM:      client,
		Metrics:  collector,
		Registry: registry,
		driver:   drv,
		otel:     otelProviders,
		logger:   logger,
	}, nil
}

// Close drains the pool, stops the browser and flushes telemetry. The
// context bounds the pool drain on top of the configured grace period.
func (c *Client) Close(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, c.Config.Pool.ShutdownGrace)
	defer cancel()

	var firstErr error
	if err := c.Pool.Shutdown(drainCtx); err != nil {
		c.logger.Warn("pool shutdown incomplete", zap.Error(err))
		firstErr = err
	}
	if err := c.driver.Close(); err != nil {
		c.logger.Warn("driver close failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := c.otel.Shutdown(ctx); err != nil {
		c.logger.Warn("telemetry shutdown failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
