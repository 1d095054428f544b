package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/dtstream/dts/pkg/config"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/dtstream/dts/pkg/logutil"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// newRunCmd runs a task in its configured snapshot/cdc mode (spec §1):
// a long-running CDC task only exits on signal or fatal error, while a
// finite snapshot task exits once its extractor is exhausted and the
// dispatcher has drained the queue.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run a snapshot or cdc task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return dtserr.New(dtserr.KindConfig, "--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tk, err := buildTask(ctx, cfg, nil)
			if err != nil {
				return err
			}

			ex, err := buildExtractor(cfg.Extractor)
			if err != nil {
				return err
			}
			defer func() {
				if err := ex.Close(); err != nil {
					logutil.Errorf("run: close extractor: %v", err)
				}
			}()

			batchSize := cfg.Extractor.BatchSize
			if batchSize <= 0 {
				batchSize = 1000
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				defer tk.RequestShutdown()
				return ex.Run(gctx, tk.PushEvent)
			})
			g.Go(func() error {
				return tk.Run(gctx, batchSize)
			})

			return g.Wait()
		},
	}
}
