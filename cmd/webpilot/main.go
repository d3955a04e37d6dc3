// The webpilot command runs the browser automation platform.
//
// Usage:
//
//	webpilot serve                        # start the HTTP API server
//	webpilot serve --config config.yaml   # with a config file
//	webpilot run --file tasks.json        # execute a task file
//	webpilot agent "<objective>"          # run the adaptive loop on a goal
//	webpilot plan "<objective>"           # plan tasks for a goal, print JSON
//	webpilot version                      # show version information
//	webpilot health                       # check a running server
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/webpilot-ai/webpilot"
	"github.com/webpilot-ai/webpilot/api"
	"github.com/webpilot-ai/webpilot/config"
	"github.com/webpilot-ai/webpilot/internal/server"
	"github.com/webpilot-ai/webpilot/types"
)

// Build-time injected.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "run":
		runTasks(os.Args[2:])
	case "agent":
		runAgent(os.Args[2:])
	case "plan":
		runPlan(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// platform is one assembled client plus its logger.
type platform struct {
	*webpilot.Client
	logger *zap.Logger
}

func buildPlatform(configPath string) (*platform, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := initLogger(cfg.Log)
	client, err := webpilot.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &platform{Client: client, logger: logger}, nil
}

func (p *platform) close() {
	if err := p.Close(context.Background()); err != nil {
		p.logger.Warn("shutdown incomplete", zap.Error(err))
	}
	_ = p.logger.Sync()
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	p, err := buildPlatform(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer p.close()

	p.logger.Info("starting webpilot",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	store, err := api.OpenStore(p.Config.Server.JobStorePath)
	if err != nil {
		p.logger.Fatal("cannot open job store", zap.Error(err))
	}

	apiServer := api.NewServer(api.Options{
		Exec:           p.Executor,
		Agent:          p.Agent,
		Planner:        p.Planner,
		Pool:           p.Pool,
		Store:          store,
		Metrics:        p.Metrics,
		MetricsHandler: promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}),
		Logger:         p.logger,
	})

	manager := server.NewManager(apiServer.Handler(), p.Config.Server, p.logger)
	if err := manager.Start(); err != nil {
		p.logger.Fatal("cannot start server", zap.Error(err))
	}
	p.logger.Info("listening", zap.String("addr", manager.Addr()))

	manager.WaitForShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), p.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		p.logger.Error("shutdown failed", zap.Error(err))
	}
	p.logger.Info("webpilot stopped")
}

type taskFile struct {
	Tasks []*types.Task `json:"tasks"`
}

func runTasks(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	file := fs.String("file", "", "Path to a JSON task file")
	parallel := fs.Bool("parallel", false, "Run tasks concurrently")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "run requires --file")
		os.Exit(1)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot read task file: %v\n", err)
		os.Exit(1)
	}
	var tf taskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		fmt.Fprintf(os.Stderr, "cannot parse task file: %v\n", err)
		os.Exit(1)
	}
	if len(tf.Tasks) == 0 {
		fmt.Fprintln(os.Stderr, "task file contains no tasks")
		os.Exit(1)
	}

	p, err := buildPlatform(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer p.close()

	ctx := context.Background()
	var results []*types.TaskResult
	if *parallel {
		results = p.Executor.RunParallel(ctx, tf.Tasks)
	} else {
		for _, task := range tf.Tasks {
			results = append(results, p.Executor.RunTask(ctx, task))
		}
	}

	failed := 0
	for _, r := range results {
		fmt.Println(r.Summary())
		if !r.Success {
			failed++
		}
	}
	printJSON(results)
	if failed > 0 {
		os.Exit(1)
	}
}

func runAgent(args []string) {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	objective := fs.Arg(0)
	if objective == "" {
		fmt.Fprintln(os.Stderr, "agent requires an objective")
		os.Exit(1)
	}

	p, err := buildPlatform(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer p.close()

	result, err := p.Agent.Run(context.Background(), objective)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent failed: %v\n", err)
		os.Exit(1)
	}

	printJSON(result)
	if !result.Success {
		os.Exit(1)
	}
}

func runPlan(args []string) {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	objective := fs.Arg(0)
	if objective == "" {
		fmt.Fprintln(os.Stderr, "plan requires an objective")
		os.Exit(1)
	}

	p, err := buildPlatform(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer p.close()

	tasks, err := p.Planner.Plan(context.Background(), objective)
	if err != nil {
		fmt.Fprintf(os.Stderr, "planning failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(taskFile{Tasks: tasks})
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("webpilot %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot encode output: %v\n", err)
		return
	}
	fmt.Println(string(out))
}

func printUsage() {
	fmt.Println(`webpilot - intelligent browser automation

Usage:
  webpilot <command> [options]

Commands:
  serve     Start the HTTP API server
  run       Execute a JSON task file
  agent     Drive a browser toward an objective adaptively
  plan      Turn an objective into a task plan without executing it
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve', 'run', 'agent' and 'plan':
  --config <path>   Path to configuration file (YAML)

Options for 'run':
  --file <path>     JSON file with {"tasks": [...]}
  --parallel        Run tasks concurrently through the pool

Examples:
  webpilot serve --config config.yaml
  webpilot run --file tasks.json --parallel
  webpilot agent "find the cheapest mechanical keyboard on shop.example"
  webpilot plan "compare laptop prices across three stores"
  webpilot health --addr http://localhost:8080`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
