package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jkaninda/sanduku/internal/config"
	"github.com/jkaninda/sanduku/internal/confine"
	"github.com/jkaninda/sanduku/internal/edit"
	"github.com/jkaninda/sanduku/internal/fsops"
	"github.com/jkaninda/sanduku/internal/observability"
	"github.com/jkaninda/sanduku/internal/runner"
	"github.com/jkaninda/sanduku/internal/safety"
	"github.com/jkaninda/sanduku/internal/search"
	"github.com/jkaninda/sanduku/internal/stream"
	"github.com/jkaninda/sanduku/internal/tools"
	"github.com/jkaninda/sanduku/internal/tools/exectool"
	"github.com/jkaninda/sanduku/internal/tools/fstool"

	goutils "github.com/jkaninda/go-utils"
)

// sharedComponents holds everything both serve modes need: the sandbox
// engines, the tool registry, and observability.
type sharedComponents struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Resolver *confine.Resolver
	Streams  *stream.Engine
	Registry *tools.Registry
	Obs      *observability.Observability
}

// newLogger builds the process logger. Logs go to stderr so that stdout
// stays free for the MCP protocol stream.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// loadConfig loads the config file honoring the SANDUKU_CONFIG env var
// and the --config / --root CLI flags.
func loadConfig(configPath, rootOverride string) (*config.Config, error) {
	path := goutils.Env("SANDUKU_CONFIG", configPath)

	var cfg *config.Config
	if _, err := os.Stat(path); err == nil {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		// No config file is fine for local use.
		cfg = config.Default()
	}

	if rootOverride != "" {
		cfg.Root = rootOverride
	}
	return cfg, nil
}

// initShared builds the sandbox engines and the tool registry from config.
func initShared(cfg *config.Config, logger *slog.Logger) (*sharedComponents, error) {
	if err := os.MkdirAll(cfg.Root, 0750); err != nil {
		return nil, fmt.Errorf("creating sandbox root %s: %w", cfg.Root, err)
	}

	resolver, err := confine.New(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("initializing sandbox root: %w", err)
	}

	ops := fsops.New(fsops.Config{MaxFileSizeBytes: cfg.Tools.MaxFileSizeBytes}, resolver, logger)
	searcher := search.New(resolver, cfg.Tools.SearchParallelism, logger)
	editor := edit.New(resolver, ops, logger)
	streams := stream.NewEngine(resolver, logger)

	reg := tools.NewRegistry()
	fstool.Register(reg, fstool.Deps{
		Resolver:        resolver,
		Ops:             ops,
		Search:          searcher,
		Edit:            editor,
		Logger:          logger,
		AllowChangeRoot: cfg.Tools.AllowChangeRoot,
	})

	if cfg.ExecEnabled() {
		classifier := safety.NewClassifier(safety.Config{ExtraVerbs: cfg.Exec.ExtraVerbs}, resolver, logger)
		run := runner.New(runner.Config{
			DefaultTimeout: cfg.Exec.Timeout(),
			MaxCPUSeconds:  cfg.Exec.MaxCPUSeconds,
			MaxMemoryMB:    cfg.Exec.MaxMemoryMB,
		}, resolver, classifier, logger)
		exectool.Register(reg, exectool.Deps{Runner: run, Logger: logger})
		logger.Info("command execution enabled",
			slog.Duration("timeout", cfg.Exec.Timeout()),
			slog.Int("extra_verbs", len(cfg.Exec.ExtraVerbs)),
		)
	}

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, err
	}
	if obs != nil {
		obs.Health.AddCheck("sandbox_root", observability.SandboxRootCheck(resolver.Root))
		if obs.Metrics != nil {
			obs.Metrics.ObserveStreamSessions(streams.ActiveSessions)
		}
		reg = observability.InstrumentRegistry(reg, obs.Metrics, obs.Tracer)
	}

	logger.Info("sandbox initialized",
		slog.String("root", resolver.Root()),
		slog.Int("tools", len(reg.List())),
	)

	return &sharedComponents{
		Cfg:      cfg,
		Logger:   logger,
		Resolver: resolver,
		Streams:  streams,
		Registry: reg,
		Obs:      obs,
	}, nil
}
