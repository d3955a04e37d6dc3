package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment variable overrides. A .env file in the
// working directory is loaded first so its values are visible as env vars;
// a missing .env is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from the recognized environment keys.
// The key names follow the original deployment surface, so existing .env
// files keep working.
func applyEnv(cfg *Config) {
	setInt(&cfg.Pool.MaxBrowsers, "MAX_BROWSERS")
	setMillis(&cfg.Browser.Timeout, "BROWSER_TIMEOUT")
	setBool(&cfg.Browser.Headless, "HEADLESS")
	setString(&cfg.Browser.ScreenshotDir, "SCREENSHOT_DIR")

	setString(&cfg.LLM.APIKey, "GROQ_API_KEY")
	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.LLM.VisionModel, "VISION_MODEL")
	setFloat(&cfg.LLM.Temperature, "LLM_TEMPERATURE")
	setInt(&cfg.LLM.MaxCallsPerTask, "MAX_LLM_CALLS_PER_TASK")

	setBool(&cfg.Vision.Enabled, "VISION_ENABLED")
	setBool(&cfg.Vision.Fallback, "ENABLE_VISION_FALLBACK")
	setInt(&cfg.Vision.MaxMarkers, "VISION_MAX_MARKERS")

	setSeconds(&cfg.Executor.TaskTimeout, "DEFAULT_TASK_TIMEOUT")
	setInt(&cfg.Executor.RetryCount, "DEFAULT_RETRY_COUNT")

	setInt(&cfg.Agent.MaxSteps, "MAX_AGENT_STEPS")
	setInt(&cfg.Agent.HistoryLength, "AGENT_HISTORY_LENGTH")
	setInt(&cfg.Agent.MaxCorrectionAttempts, "MAX_CORRECTION_ATTEMPTS")
	setFloat(&cfg.Agent.IntelligenceRatio, "INTELLIGENCE_RATIO")

	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Server.JobStorePath, "JOB_STORE_PATH")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Dir, "LOG_DIR")

	setBool(&cfg.Telemetry.Enabled, "TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTLP_ENDPOINT")
}

// Validate checks invariants the runtime depends on. It collects all
// violations into one error so a misconfigured deployment surfaces every
// problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Pool.MaxBrowsers < 1 || c.Pool.MaxBrowsers > 50 {
		errs = append(errs, "pool.max_browsers must be between 1 and 50")
	}
	if c.Pool.ErrorThreshold < 1 {
		errs = append(errs, "pool.error_threshold must be at least 1")
	}
	if c.Agent.MaxSteps < 1 {
		errs = append(errs, "agent.max_steps must be at least 1")
	}
	if c.Agent.HistoryLength < 1 {
		errs = append(errs, "agent.history_length must be at least 1")
	}
	if c.Agent.IntelligenceRatio < 0 || c.Agent.IntelligenceRatio > 1 {
		errs = append(errs, "agent.intelligence_ratio must be between 0.0 and 1.0")
	}
	if c.LLM.MaxCallsPerTask < 1 {
		errs = append(errs, "llm.max_calls_per_task must be at least 1")
	}
	if c.Executor.BackoffBase < 1.0 {
		errs = append(errs, "executor.backoff_base must be at least 1.0")
	}
	if c.Vision.Enabled && c.LLM.VisionModel == "" {
		errs = append(errs, "llm.vision_model must be set when vision is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

// setMillis reads an integer number of milliseconds, the unit the original
// deployment surface used for BROWSER_TIMEOUT.
func setMillis(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

// setSeconds reads an integer number of seconds.
func setSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}
