package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/logharbor/logharbor/internal/engine"
	"github.com/logharbor/logharbor/internal/keystore"
	"github.com/logharbor/logharbor/internal/pkg/security"
	"github.com/logharbor/logharbor/internal/policy"
	"github.com/logharbor/logharbor/internal/registry"
	"github.com/logharbor/logharbor/internal/server"
)

func newServeCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the log manager server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.HTTPAddr, _ = cmd.Flags().GetString("http-addr")
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
			}
			if cmd.Flags().Changed("auth") {
				cfg.AuthEnabled, _ = cmd.Flags().GetBool("auth")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().String("http-addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().String("data-dir", "", "data directory (overrides config)")
	cmd.Flags().Bool("auth", false, "require API keys (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg appConfig) error {
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	cipher, generated, err := security.LoadCipher(masterKeyPath(cfg))
	if err != nil {
		return err
	}
	if generated {
		logger.Warn("generated a new master key; back it up or API keys are lost with it", "path", masterKeyPath(cfg))
	}

	keys, err := keystore.Open(keystorePath(cfg), cipher)
	if err != nil {
		return err
	}

	pol := policy.Policy{DefaultDays: cfg.RetentionDays, ArchiveDays: cfg.ArchiveDays}
	if cfg.RetentionFile != "" {
		pol, err = policy.Load(cfg.RetentionFile)
		if err != nil {
			return err
		}
	}

	manager, err := engine.NewManager(engine.Config{
		DataDir:          segmentsDir(cfg),
		MaxSegmentBytes:  cfg.MaxSegmentBytes,
		MaxSegmentAge:    cfg.MaxSegmentAge,
		RotationInterval: cfg.RotationCheck,
		CompressAfter:    cfg.CompressAfter,
		CompactInterval:  cfg.CompactInterval,
		SweepInterval:    cfg.SweepInterval,
		MaxBatchSize:     cfg.MaxBatch,
		Retention:        pol,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	reg := registry.New()
	srv := server.New(
		server.Config{Addr: cfg.HTTPAddr, AuthEnabled: cfg.AuthEnabled},
		manager, keys, reg, logger.With("component", "http"),
	)

	logger.Info("logharbor starting",
		"version", version,
		"addr", cfg.HTTPAddr,
		"data_dir", cfg.DataDir,
		"auth", cfg.AuthEnabled,
		"config", cfg.ConfigPath,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { reg.Run(ctx, time.Minute, cfg.ProducerTimeout); return nil })

	runErr := g.Wait()
	if err := manager.Close(); err != nil {
		logger.Error("closing store", "error", err)
	}
	logger.Info("logharbor stopped")
	return runErr
}
