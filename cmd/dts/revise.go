package main

import (
	"os/signal"
	"syscall"

	"github.com/dtstream/dts/pkg/config"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/spf13/cobra"
)

// newReviseCmd repairs a destination from a prior check run's log: for
// every identity the log names, it re-reads the present-day source row
// and sinks it through the task's normal (non-check) sinker (spec §6).
func newReviseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revise",
		Short: "repair the destination using a prior check run's log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return dtserr.New(dtserr.KindConfig, "--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Extractor.CheckLogDir == "" {
				return dtserr.New(dtserr.KindConfig, "extractor.check_log_dir is required in revise mode")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			meta, err := buildMetaManager(ctx, cfg.Sinker)
			if err != nil {
				return err
			}
			conflict := conflictPolicyOf(cfg.Sinker.ConflictPolicy)
			dst, err := buildSinker(ctx, cfg.Sinker, meta, conflict, nil)
			if err != nil {
				return err
			}

			return repairFromCheckLog(ctx, cfg, meta, dst)
		},
	}
}
