package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/HyphaGroup/assimilate/internal/audit"
	"github.com/HyphaGroup/assimilate/internal/backup"
	"github.com/HyphaGroup/assimilate/internal/cleanup"
	"github.com/HyphaGroup/assimilate/internal/config"
	"github.com/HyphaGroup/assimilate/internal/logger"
	"github.com/HyphaGroup/assimilate/internal/mcp"
	"github.com/HyphaGroup/assimilate/internal/runstore"
	"github.com/HyphaGroup/assimilate/internal/schedule"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}

func serve(ctx context.Context, cfg *config.LoadedConfig) error {
	if err := logger.Init(cfg.Data.LogDir, cfg.Data.JSONLogs); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	auditFile, err := os.OpenFile(filepath.Join(cfg.Data.LogDir, "audit.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = auditFile.Close() }()
	audit.SetDefault(audit.New(auditFile, true))

	logger.Println("Assimilate - data assimilation over MCP")
	if cfg.ConfigPath != "" {
		logger.Printf("Config: %s", cfg.ConfigPath)
	}

	if err := os.MkdirAll(cfg.Data.CasesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cases directory: %w", err)
	}

	rt, err := openRuntime(cfg)
	if err != nil {
		return err
	}
	if rt != nil {
		defer func() { _ = rt.Close() }()
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := rt.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to container runtime: %w", err)
		}
		logger.Printf("Connected to %s runtime", rt.Name())
	}

	runs, err := runstore.NewStore(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("failed to initialize run store: %w", err)
	}
	defer func() { _ = runs.Close() }()
	logger.Printf("Run database: %s/runs.db", cfg.Data.Dir)

	schedules, err := schedule.NewStore(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("failed to initialize schedule store: %w", err)
	}
	defer func() { _ = schedules.Close() }()
	logger.Printf("Schedule database: %s/schedules.db", cfg.Data.Dir)
	logger.Printf("Cases directory: %s", cfg.Data.CasesDir)

	server := mcp.NewServer(&mcp.ServerConfig{
		Config:        cfg,
		Version:       Version,
		Runtime:       rt,
		RunStore:      runs,
		ScheduleStore: schedules,
	})
	defer server.Close()

	cleanCfg := cleanup.DefaultConfig(cfg.Data.Dir)
	cleanCfg.Runs = runs
	cleanCfg.Interval = cfg.CleanupInterval()
	cleanCfg.RunRetention = cfg.RunRetention()
	cleanCfg.Executions = cleanup.PrunerFunc(schedules.PruneExecutions)
	cleaner := cleanup.New(cleanCfg)
	cleaner.Start()
	defer cleaner.Stop()

	if b := cfg.Defaults.Backup; b.Enabled {
		backupMgr, err := backup.New(backup.Config{
			DataDir:   cfg.Data.Dir,
			BackupDir: b.Directory,
			Retention: b.Retention,
			Interval:  time.Duration(b.IntervalHours) * time.Hour,
		})
		if err != nil {
			logger.Error("Failed to initialize backup: %v", err)
		} else {
			backupMgr.Start()
			defer backupMgr.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, cfg.Server.Address)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("Shutting down...")
		return nil
	})

	err = g.Wait()
	if err == nil {
		logger.Println("Shutdown complete")
	}
	return err
}
