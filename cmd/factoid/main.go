// Command factoid runs the factoid generation service.
//
// Usage:
//
//	factoid serve --config config.yaml
//	factoid serve --port 9090 --watch
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/dailyfactoid/factoid/pkg/config"
	"github.com/dailyfactoid/factoid/pkg/costguard"
	"github.com/dailyfactoid/factoid/pkg/counter"
	"github.com/dailyfactoid/factoid/pkg/factoid"
	"github.com/dailyfactoid/factoid/pkg/generator"
	"github.com/dailyfactoid/factoid/pkg/identity"
	"github.com/dailyfactoid/factoid/pkg/logger"
	"github.com/dailyfactoid/factoid/pkg/observability"
	"github.com/dailyfactoid/factoid/pkg/openrouter"
	"github.com/dailyfactoid/factoid/pkg/ratelimit"
	"github.com/dailyfactoid/factoid/pkg/server"
	"github.com/dailyfactoid/factoid/pkg/telemetry"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Start the API server."`
	Generate GenerateCmd `cmd:"" help:"Generate one factoid and exit (for cron)."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("factoid version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Telemetry.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("Failed to flush traces", "error", err)
		}
	}()

	log := logger.GetLogger()

	store, err := factoid.NewStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to create record store: %w", err)
	}
	defer store.Close()

	counters := counter.NewStore(cfg.Redis, log)
	defer counters.Close()

	ledger := costguard.NewLedger(cfg.Redis, log)
	defer ledger.Close()

	metrics := observability.NewMetrics()
	notifier := telemetry.NewNotifier(log, buildSinks(cfg, log, metrics)...)
	upstream := openrouter.NewClient(&cfg.OpenRouter)
	if !upstream.Enabled() {
		log.Warn("No OpenRouter API key configured; serving stub factoids")
	}

	srv := server.New(cfg, server.Deps{
		Resolver:  identity.NewResolver(config.BoolValue(cfg.Server.TrustProxyHeaders, true)),
		Limiter:   ratelimit.NewLimiter(&cfg.RateLimits, counters),
		Guard:     costguard.NewGuard(&cfg.Budgets, ledger, log),
		Generator: generator.New(store, upstream, notifier, log),
		Store:     store,
		Upstream:  upstream,
		Notifier:  notifier,
		Metrics:   metrics,
		Logger:    log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	fmt.Printf("Factoid service ready on http://%s\n", cfg.Server.Address())
	fmt.Printf("   Generate:  POST /api/factoids/generate\n")
	fmt.Printf("   Stream:    GET  /api/factoids/generate/stream\n")
	fmt.Printf("   Health:    GET  /health\n")
	fmt.Printf("   Metrics:   GET  /metrics\n")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	notifier.Wait()
	return nil
}

// GenerateCmd runs one generation outside the HTTP server, tagged as
// scheduled. Rate limits do not apply to operator-initiated runs; the
// budget reservation still does.
type GenerateCmd struct {
	Topic string `help:"Topic to generate about."`
	Model string `help:"Model override."`
}

func (c *GenerateCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, _, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	store, err := factoid.NewStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to create record store: %w", err)
	}
	defer store.Close()

	ledger := costguard.NewLedger(cfg.Redis, log)
	defer ledger.Close()
	guard := costguard.NewGuard(&cfg.Budgets, ledger, log)

	notifier := telemetry.NewNotifier(log, telemetry.NewLogSink(log))
	defer notifier.Wait()

	upstream := openrouter.NewClient(&cfg.OpenRouter)
	if !upstream.Enabled() {
		log.Warn("No OpenRouter API key configured; generating a stub factoid")
	}

	estimate := 0.0
	if upstream.Enabled() {
		estimate = upstream.EstimateCost(c.Topic)
	}
	reservation, err := guard.Reserve(ctx, "scheduled", estimate)
	if err != nil {
		return fmt.Errorf("budget reservation failed: %w", err)
	}

	req := factoid.NewRequest("scheduler", "scheduled", factoid.SourceScheduled)
	req.Topic = c.Topic
	req.Model = c.Model
	if req.Model == "" {
		req.Model = upstream.DefaultModel()
	}
	req.ExpectedCostUSD = reservation.Estimate()

	if err := store.CreateRequest(ctx, req); err != nil {
		if rerr := reservation.Release(ctx); rerr != nil {
			log.Error("failed to release reservation", "error", rerr)
		}
		return fmt.Errorf("failed to record generation request: %w", err)
	}

	gen := generator.New(store, upstream, notifier, log)
	f, err := gen.Run(ctx, req, reservation, func(e generator.Event) {
		if e.Kind == generator.KindStatus {
			log.Info("Generation progress", "stage", string(e.Stage))
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s [%s] %s\n", f.Emoji, f.Subject, f.Text)
	return nil
}

func loadConfig(path string) (*config.Config, *config.Loader, error) {
	if err := config.LoadDotEnv(); err != nil {
		slog.Warn("Failed to load .env files", "error", err)
	}

	if path == "" {
		slog.Info("No config file given; using defaults")
		return config.Default(), nil, nil
	}

	loader := config.NewLoader(path, config.WithOnChange(func(*config.Config) {
		// Reloads are log-only; restart the process to apply changes.
		slog.Info("Configuration file changed; restart to apply")
	}))
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, loader, nil
}

func buildSinks(cfg *config.Config, log *slog.Logger, metrics *observability.Metrics) []telemetry.Sink {
	var sinks []telemetry.Sink
	for _, name := range cfg.Telemetry.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, telemetry.NewLogSink(log))
		case "prometheus":
			sinks = append(sinks, metrics.Sink())
		}
	}
	return sinks
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("factoid"),
		kong.Description("Rate-limited, budget-guarded factoid generation service."),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}

	output := os.Stderr
	if cli.LogFile != "" {
		file, closeFn, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer closeFn()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
