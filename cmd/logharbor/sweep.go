package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/logharbor/logharbor/internal/engine"
	"github.com/logharbor/logharbor/internal/model"
	"github.com/logharbor/logharbor/internal/policy"
)

func newSweepCommand(configPath *string) *cobra.Command {
	var days int
	var project, level string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one compression and retention pass, then exit",
		Long: "Sweep archives sealed segments that are due for compression and\n" +
			"deletes segments past their retention window. With --days it instead\n" +
			"deletes everything older than the given age, like the cleanup API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}

			var lv model.Level
			if level != "" {
				parsed, ok := model.ParseLevel(level)
				if !ok {
					return fmt.Errorf("invalid --level %q: use debug, info, warning, error, or critical", level)
				}
				lv = parsed
			}

			pol := policy.Policy{DefaultDays: cfg.RetentionDays, ArchiveDays: cfg.ArchiveDays}
			if cfg.RetentionFile != "" {
				pol, err = policy.Load(cfg.RetentionFile)
				if err != nil {
					return err
				}
			}

			manager, err := engine.NewManager(engine.Config{
				DataDir:         segmentsDir(cfg),
				MaxSegmentBytes: cfg.MaxSegmentBytes,
				CompressAfter:   cfg.CompressAfter,
				Retention:       pol,
				Logger:          logger,
			})
			if err != nil {
				return err
			}
			defer manager.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if days > 0 {
				result, err := manager.Cleanup(ctx, days, project, lv)
				if err != nil {
					return err
				}
				fmt.Printf("deleted %d log entries older than %d days\n", result.DeletedCount, days)
				return nil
			}

			archived, err := manager.CompactOnce(ctx)
			if err != nil {
				return err
			}
			swept, err := manager.SweepOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("archived %d segments, deleted %d segments (%d entries)\n",
				archived, swept.SegmentsDeleted, swept.EntriesDeleted)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "delete segments older than this many days instead of applying the policy")
	cmd.Flags().StringVar(&project, "project", "", "limit --days cleanup to one project")
	cmd.Flags().StringVar(&level, "level", "", "limit --days cleanup to segments holding only this level")
	return cmd
}
