package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"mediaflow/internal/config"
	"mediaflow/internal/daemon"
	"mediaflow/internal/engine"
	"mediaflow/internal/lifecycle"
	"mediaflow/internal/logging"
	"mediaflow/internal/notifications"
	"mediaflow/internal/preflight"
	"mediaflow/internal/recovery"
	"mediaflow/internal/services/feishu"
	"mediaflow/internal/services/runninghub"
	"mediaflow/internal/sheet"
	"mediaflow/internal/task"
	"mediaflow/internal/workflow"
)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error

	newLogger  func(*config.Config) (*slog.Logger, string, error)
	newEngine  func(cfg *config.Config, debug bool) (engine.Engine, error)
	newSheet   func(*config.Config) (sheet.Sheet, error)
	newTargets func(*config.Config) preflight.Targets
	runnerOpts []workflow.RunnerOption
	daemonOpts []daemon.Option
}

// contextOption replaces collaborators; tests use it to inject fakes.
type contextOption func(*commandContext)

func withLoggerFactory(fn func(*config.Config) (*slog.Logger, string, error)) contextOption {
	return func(c *commandContext) { c.newLogger = fn }
}

func withEngineFactory(fn func(*config.Config, bool) (engine.Engine, error)) contextOption {
	return func(c *commandContext) { c.newEngine = fn }
}

func withSheetFactory(fn func(*config.Config) (sheet.Sheet, error)) contextOption {
	return func(c *commandContext) { c.newSheet = fn }
}

func withTargetsFactory(fn func(*config.Config) preflight.Targets) contextOption {
	return func(c *commandContext) { c.newTargets = fn }
}

func withRunnerOptions(opts ...workflow.RunnerOption) contextOption {
	return func(c *commandContext) { c.runnerOpts = append(c.runnerOpts, opts...) }
}

func withDaemonOptions(opts ...daemon.Option) contextOption {
	return func(c *commandContext) { c.daemonOpts = append(c.daemonOpts, opts...) }
}

func newCommandContext(configFlag *string, opts ...contextOption) *commandContext {
	c := &commandContext{
		configFlag: configFlag,
		newLogger:  logging.NewFromConfig,
		newEngine:  defaultEngine,
		newSheet:   defaultSheet,
		newTargets: defaultTargets,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

func defaultEngine(cfg *config.Config, debug bool) (engine.Engine, error) {
	if debug {
		return engine.NewMock(engine.WithVideoWorkflow(cfg.Engine.VideoWorkflowID)), nil
	}
	if err := cfg.ValidateEngineCredentials(); err != nil {
		return nil, err
	}
	return runninghub.NewClient(runninghub.ConfigFrom(cfg.Engine)), nil
}

func defaultSheet(cfg *config.Config) (sheet.Sheet, error) {
	if err := cfg.ValidateSheetCredentials(); err != nil {
		return nil, err
	}
	return feishu.NewClient(feishu.ConfigFrom(cfg.Sheet)), nil
}

// defaultTargets builds clients without checking credentials so doctor can
// report what is missing.
func defaultTargets(cfg *config.Config) preflight.Targets {
	return preflight.Targets{
		Engine: runninghub.NewClient(runninghub.ConfigFrom(cfg.Engine)),
		Sheet:  feishu.NewClient(feishu.ConfigFrom(cfg.Sheet)),
	}
}

// stack is the set of collaborators a run or recover command drives.
type stack struct {
	cfg     *config.Config
	logger  *slog.Logger
	tasks   *lifecycle.Manager
	engine  engine.Engine
	sheet   sheet.Sheet
	runner  *workflow.Runner
	daemon  *daemon.Daemon
	targets preflight.Targets
}

func (s *stack) Close() error {
	return s.tasks.Close()
}

func (c *commandContext) openStack(ctx context.Context, debug bool) (*stack, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, logPath, err := c.newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	eng, err := c.newEngine(cfg, debug)
	if err != nil {
		return nil, err
	}
	sh, err := c.newSheet(cfg)
	if err != nil {
		return nil, err
	}
	tasks, err := c.openTasks(ctx, logger)
	if err != nil {
		return nil, err
	}

	notifier := notifications.NewService(cfg)
	runnerOpts := append([]workflow.RunnerOption{
		workflow.WithLogger(logger),
		workflow.WithNotifier(notifier),
	}, c.runnerOpts...)
	runner := workflow.NewRunner(cfg, tasks, eng, sh, runnerOpts...)
	coord := &recovery.Coordinator{Tasks: tasks, Engine: eng, Finisher: runner, Logger: logger}

	daemonOpts := append([]daemon.Option{
		daemon.WithLogger(logger),
		daemon.WithNotifier(notifier),
		daemon.WithLogPath(logPath),
	}, c.daemonOpts...)
	d, err := daemon.New(cfg, tasks, runner, coord, daemonOpts...)
	if err != nil {
		tasks.Close()
		return nil, err
	}

	s := &stack{cfg: cfg, logger: logger, tasks: tasks, engine: eng, sheet: sh, runner: runner, daemon: d}
	if p, ok := eng.(preflight.Pinger); ok && !debug {
		s.targets.Engine = p
	}
	if p, ok := sh.(preflight.Pinger); ok {
		s.targets.Sheet = p
	}
	return s, nil
}

func (c *commandContext) openTasks(ctx context.Context, logger *slog.Logger) (*lifecycle.Manager, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	store, err := task.Open(ctx, task.Options{Backend: cfg.Store.Backend, Path: cfg.StorePath(), Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	return lifecycle.New(store, lifecycle.WithLogger(logger)), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
