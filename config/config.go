// Package config loads webpilot settings from defaults, an optional YAML
// file, and environment variables, in that order of precedence. A .env file
// in the working directory is honored the same way the original tooling
// expects.
package config

import "time"

// Config is the complete webpilot configuration.
type Config struct {
	Pool      PoolConfig      `yaml:"pool"`
	Browser   BrowserConfig   `yaml:"browser"`
	LLM       LLMConfig       `yaml:"llm"`
	Vision    VisionConfig    `yaml:"vision"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Agent     AgentConfig     `yaml:"agent"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// PoolConfig bounds the browser session pool.
type PoolConfig struct {
	// MaxBrowsers caps concurrent browser sessions.
	MaxBrowsers int `yaml:"max_browsers"`
	// AcquireTimeout bounds how long a caller waits for a lease.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	// ErrorThreshold force-closes a session whose consecutive error count
	// exceeds it, even on a nominally healthy release.
	ErrorThreshold int `yaml:"error_threshold"`
	// ShutdownGrace bounds the drain wait for in-use sessions on shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// BrowserConfig configures the underlying driver.
type BrowserConfig struct {
	Headless       bool          `yaml:"headless"`
	Timeout        time.Duration `yaml:"timeout"` // per driver call
	ViewportWidth  int           `yaml:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height"`
	UserAgent      string        `yaml:"user_agent"`
	ScreenshotDir  string        `yaml:"screenshot_dir"`
}

// LLMConfig configures the text reasoning service client.
type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	VisionModel string        `yaml:"vision_model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	// RequestsPerSecond rate-limits outbound reasoning calls; zero disables.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// MaxCallsPerTask caps reasoning calls charged to one task.
	MaxCallsPerTask int `yaml:"max_calls_per_task"`
}

// VisionConfig gates the visual resolution tier.
type VisionConfig struct {
	Enabled    bool `yaml:"enabled"`
	Fallback   bool `yaml:"fallback"` // use vision when the structural tier is inconclusive
	MaxMarkers int  `yaml:"max_markers"`
}

// ExecutorConfig carries task execution defaults.
type ExecutorConfig struct {
	TaskTimeout  time.Duration `yaml:"task_timeout"`
	RetryCount   int           `yaml:"retry_count"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	BackoffBase  float64       `yaml:"backoff_base"`

	BreakerThreshold    int           `yaml:"breaker_threshold"`
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout"`
}

// AgentConfig bounds the adaptive loop.
type AgentConfig struct {
	MaxSteps              int `yaml:"max_steps"`
	HistoryLength         int `yaml:"history_length"`
	MaxCorrectionAttempts int `yaml:"max_correction_attempts"`
	// IntelligenceRatio is an advisory mix of intelligent vs. direct steps
	// consumed by workflow builders; the executor is agnostic to it.
	IntelligenceRatio float64 `yaml:"intelligence_ratio"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// JobStorePath is the sqlite file backing job records; empty means
	// in-memory.
	JobStorePath string `yaml:"job_store_path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir"`   // plan/log artifacts directory
}

// TelemetryConfig configures OTel tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			MaxBrowsers:    5,
			AcquireTimeout: 60 * time.Second,
			ErrorThreshold: 3,
			ShutdownGrace:  30 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:       true,
			Timeout:        30 * time.Second,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			ScreenshotDir:  "./screenshots",
		},
		LLM: LLMConfig{
			BaseURL:           "https://api.groq.com/openai/v1",
			Model:             "llama-3.3-70b-versatile",
			VisionModel:       "llama-3.2-90b-vision-preview",
			Temperature:       0.1,
			Timeout:           60 * time.Second,
			RequestsPerSecond: 2,
			MaxCallsPerTask:   100,
		},
		Vision: VisionConfig{
			Enabled:    false,
			Fallback:   true,
			MaxMarkers: 50,
		},
		Executor: ExecutorConfig{
			TaskTimeout:         300 * time.Second,
			RetryCount:          3,
			InitialDelay:        time.Second,
			MaxDelay:            60 * time.Second,
			BackoffBase:         2.0,
			BreakerThreshold:    5,
			BreakerResetTimeout: 60 * time.Second,
		},
		Agent: AgentConfig{
			MaxSteps:              50,
			HistoryLength:         5,
			MaxCorrectionAttempts: 2,
			IntelligenceRatio:     0.3,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			JobStorePath:    "./webpilot_jobs.db",
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "./logs",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "webpilot",
			SampleRate:   1.0,
		},
	}
}
