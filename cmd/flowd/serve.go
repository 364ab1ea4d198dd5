package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/config"
	"github.com/fyrsmithlabs/flowd/internal/contextwindow"
	"github.com/fyrsmithlabs/flowd/internal/coordinator"
	"github.com/fyrsmithlabs/flowd/internal/httpapi"
	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/orchestrator"
	"github.com/fyrsmithlabs/flowd/internal/session"
	"github.com/fyrsmithlabs/flowd/internal/sessionlock"
	"github.com/fyrsmithlabs/flowd/internal/statemachine"
	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the flowd daemon",
	Long: `Start the flowd HTTP server and background workflow reaper.

Configuration precedence: FLOWD_* environment variables override the YAML
config file, which overrides built-in defaults.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync(logger) }()

	logger.Info("starting flowd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.Int("max_concurrent_workflows", cfg.Workflow.MaxConcurrentWorkflows),
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	return run(ctx, cfg, logger)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	locks := sessionlock.NewManager(cfg.Locks.TTL,
		sessionlock.WithLogger(logger.Named("locks")))

	windows, err := contextwindow.NewManager(cfg.ContextWindow, logger.Named("contextwindow"))
	if err != nil {
		return fmt.Errorf("failed to create context window manager: %w", err)
	}

	sessions, err := session.NewService(
		session.NewMemoryStore(), locks, windows,
		session.Config{TTL: cfg.Session.TTL},
		session.WithLogger(logger.Named("session")),
	)
	if err != nil {
		return fmt.Errorf("failed to create session service: %w", err)
	}

	coordMetrics, err := coordinator.NewMetrics(nil)
	if err != nil {
		logger.Warn("failed to create coordinator metrics", zap.Error(err))
	}
	coord, err := coordinator.New(
		coordinator.NewStaticBackend(), windows,
		coordinator.WithLogger(logger.Named("coordinator")),
		coordinator.WithMetrics(coordMetrics),
		coordinator.WithMessageProvider(sessions),
	)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	hooks := statemachine.NewAsyncHookExecutor(256, logger.Named("hooks"))
	registerHooks(hooks, logger.Named("hooks"))
	hooks.Start(ctx)
	defer hooks.Close()

	smMetrics, err := statemachine.NewMetrics(nil)
	if err != nil {
		logger.Warn("failed to create state machine metrics", zap.Error(err))
	}
	orchMetrics, err := orchestrator.NewMetrics(nil)
	if err != nil {
		logger.Warn("failed to create orchestrator metrics", zap.Error(err))
	}

	orch, err := orchestrator.New(
		workflow.PipelineDefinition(), coord, locks, cfg.Workflow,
		orchestrator.WithSessions(sessions),
		orchestrator.WithHookEmitter(hooks),
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithMetrics(orchMetrics),
		orchestrator.WithStateMachineMetrics(smMetrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	go orch.RunReaper(ctx)
	go runSessionSweeper(ctx, sessions, cfg.Session.TTL, logger)

	srv, err := httpapi.NewServer(orch, logger.Named("http"), httpapi.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, httpapi.NewHTTPMetrics(logger.Named("http")))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// registerHooks binds the built-in hook actions. Operators extend this set
// by registering additional actions before Start.
func registerHooks(hooks *statemachine.AsyncHookExecutor, logger *zap.Logger) {
	hooks.Register("workflow_complete", func(ctx context.Context, event statemachine.HookEvent) error {
		logger.Info("workflow completed",
			zap.String("workflow_id", event.WorkflowID),
			zap.String("session_id", event.SessionID),
			zap.String("state", string(event.State)),
		)
		return nil
	})
	hooks.Register("entry:"+string(workflow.StateError), func(ctx context.Context, event statemachine.HookEvent) error {
		logger.Warn("workflow entered error state",
			zap.String("workflow_id", event.WorkflowID),
			zap.String("session_id", event.SessionID),
		)
		return nil
	})
}

// runSessionSweeper periodically expires idle sessions and stale locks.
func runSessionSweeper(ctx context.Context, sessions *session.Service, ttl time.Duration, logger *zap.Logger) {
	interval := ttl / 24
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sessions.Sweep(ctx)
			if err != nil {
				logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("swept expired sessions", zap.Int("count", removed))
			}
		}
	}
}
