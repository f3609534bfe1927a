package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/rharber/whoop-scraper/internal/config"
	"github.com/rharber/whoop-scraper/internal/logging"
	"github.com/rharber/whoop-scraper/internal/pipeline"
	"github.com/rharber/whoop-scraper/internal/whoop"
)

// Runtime defines runtime inputs required to start the scraper.
// Params: ConfigPath points to the TOML configuration (may be empty for
// env-only operation); Stdout overrides the stdout sink destination.
// Returns: Runtime value used by Run.
type Runtime struct {
	ConfigPath string
	Stdout     io.Writer
}

type runDeps struct {
	loadConfig func(string) (*config.Config, error)
	newLogger  func(config.LogConfig) (*slog.Logger, func(), error)
	startPprof func(context.Context, config.PprofConfig, *slog.Logger) (func(), error)
	newAPI     func(*config.Config) pipeline.API
	newSink    func(config.OutputConfig, io.Writer) (pipeline.Sink, error)
}

// Run loads configuration and executes one scrape, or starts serve mode.
// Params: ctx controls lifecycle; rt provides runtime inputs.
// Returns: error on config, startup, or pipeline failure; nil on success.
func Run(ctx context.Context, rt Runtime) error {
	return runWithDeps(ctx, rt, defaultRunDeps())
}

// runWithDeps executes the runtime using injectable dependencies.
// Params: ctx controls lifecycle; rt runtime inputs; deps dependency set.
// Returns: runtime error or nil on success.
func runWithDeps(ctx context.Context, rt Runtime, deps runDeps) error {
	cfg, err := deps.loadConfig(rt.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLogger, err := deps.newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLogger()

	stopPprof, err := deps.startPprof(ctx, cfg.Pprof, logger)
	if err != nil {
		return fmt.Errorf("start pprof: %w", err)
	}
	defer stopPprof()

	stdout := rt.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	sink, err := deps.newSink(cfg.Output, stdout)
	if err != nil {
		return fmt.Errorf("build output sink: %w", err)
	}

	runner := pipeline.NewRunner(deps.newAPI(cfg), sink, pipeline.Options{
		HeartrateWindow: cfg.API.HeartrateWindow.Duration,
		HeartrateStep:   cfg.API.HeartrateStep.Duration,
		CycleWindow:     cfg.API.CycleWindow.Duration,
		StartDate:       cfg.API.StartDate,
	}, logger)

	if cfg.Serve.Enabled {
		server, err := pipeline.NewScrapeServer(cfg.Serve.Listen, cfg.Serve.Path, runner, logger)
		if err != nil {
			return fmt.Errorf("start scrape server: %w", err)
		}
		return server.Run(ctx)
	}

	if err := runner.Run(ctx, cfg.Auth.Username, cfg.Auth.Password); err != nil {
		logger.Error("scrape failed", slog.String("error", err.Error()))
		return err
	}

	return nil
}

// defaultRunDeps provides production runtime dependencies.
// Params: none.
// Returns: dependency set used by Run.
func defaultRunDeps() runDeps {
	return runDeps{
		loadConfig: config.Load,
		newLogger:  logging.New,
		startPprof: startPprofServer,
		newAPI: func(cfg *config.Config) pipeline.API {
			return whoop.NewClient(cfg.API.BaseURL, cfg.API.Timeout.Duration)
		},
		newSink: pipeline.NewSinkFromConfig,
	}
}
