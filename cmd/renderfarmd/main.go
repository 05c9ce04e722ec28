// Command renderfarmd is the render farm API daemon: it loads
// configuration from the environment, opens the database, recovers any
// tasks left non-terminal by a previous process, and serves the HTTP API
// on :8888 until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coldforge/renderfarm/internal/api"
	"github.com/coldforge/renderfarm/internal/audit"
	"github.com/coldforge/renderfarm/internal/auth"
	"github.com/coldforge/renderfarm/internal/bus"
	"github.com/coldforge/renderfarm/internal/config"
	"github.com/coldforge/renderfarm/internal/doctor"
	"github.com/coldforge/renderfarm/internal/renderer"
	"github.com/coldforge/renderfarm/internal/scheduler"
	"github.com/coldforge/renderfarm/internal/store"
	"github.com/coldforge/renderfarm/internal/telemetry"
)

const bindAddr = ":8888"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.Render.UploadFacility, cfg.LogLevel)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded")

	auditLogger, err := audit.New(cfg.Render.UploadFacility)
	if err != nil {
		fatalStartup(logger, "E_AUDIT_INIT", err)
	}
	defer auditLogger.Close()

	eventBus := bus.New()
	auditLogger.Subscribe(eventBus)

	otelProvider, err := telemetry.Init(ctx, cfg.OTel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)

	db, err := store.Open(ctx, cfg.DB, eventBus, logger)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer db.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	diagnosis := doctor.Run(ctx, cfg, db)
	for _, r := range diagnosis.Results {
		logger.Info("doctor check", "name", r.Name, "status", r.Status, "message", r.Message)
	}
	if !diagnosis.OK() {
		logger.Warn("one or more startup diagnostics failed; continuing, but expect degraded behavior")
	}

	registry := renderer.NewTaskRegistry()

	if err := recoverNonTerminalTasks(ctx, db, cfg.Render.UploadFacility, logger); err != nil {
		fatalStartup(logger, "E_TASK_RECOVERY", err)
	}

	mgr := auth.NewManager(db, registry, cfg.Render.UploadFacility, cfg.Render.BlenderBin, logger)

	sched := scheduler.New(registry, logger)
	sched.Start(ctx)
	defer sched.Stop()
	logger.Info("startup phase", "phase", "scheduler_started")

	srv := api.NewServer(mgr, db, registry, logger)
	httpServer := &http.Server{
		Addr:    bindAddr,
		Handler: srv.Routes(),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", bindAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		fatalStartup(logger, "E_LISTEN", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// recoverNonTerminalTasks implements the restart recovery policy: a task
// left CREATED/SCHEDULED/RUNNING/COMPLETED/COMPRESSING/PACKED by a crashed or
// restarted daemon has no live supervisor to resume it, so it is marked
// failed and its scratch artifacts are released immediately rather than
// left for a client to trip over later.
func recoverNonTerminalTasks(ctx context.Context, db *store.Store, scratchDir string, logger *slog.Logger) error {
	tasks, err := db.ListNonTerminalTasks(ctx)
	if err != nil {
		return fmt.Errorf("listing non-terminal tasks: %w", err)
	}
	for _, t := range tasks {
		if err := db.UpdateTaskState(ctx, t.TaskID, store.TaskFailedRender, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failing orphaned task %s: %w", t.TaskID, err)
		}
		releaseOrphanedArtifacts(scratchDir, t)
		logger.Warn("recovered orphaned task as failed", "task_id", t.TaskID, "previous_state", t.State)
	}
	if len(tasks) > 0 {
		logger.Info("startup phase", "phase", "recovery_scan_completed", "recovered", len(tasks))
	}
	return nil
}

func releaseOrphanedArtifacts(scratchDir string, t store.Task) {
	os.Remove(t.BlendFilePath)
	os.RemoveAll(filepath.Join(scratchDir, t.TaskID))
	os.Remove(filepath.Join(scratchDir, t.TaskID+".tar.gz"))
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"renderfarmd","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano), reasonCode, message)
	}
	os.Exit(1)
}
