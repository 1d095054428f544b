package main

import (
	"os/signal"
	"syscall"

	"github.com/dtstream/dts/pkg/check"
	"github.com/dtstream/dts/pkg/config"
	"github.com/dtstream/dts/pkg/dtserr"
	"github.com/spf13/cobra"
)

// newReviewCmd re-runs the check pipeline over a (presumably just
// revised) destination into a second log file; the run is successful
// iff that log comes out empty (spec §6).
func newReviewCmd() *cobra.Command {
	var reviewLogPath string

	cmd := &cobra.Command{
		Use:   "review",
		Short: "re-check the destination and fail if any diff/miss remains",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return dtserr.New(dtserr.KindConfig, "--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if reviewLogPath == "" {
				reviewLogPath = cfg.Extractor.CheckLogDir + ".review"
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			writer, err := check.NewWriter(reviewLogPath)
			if err != nil {
				return err
			}
			defer writer.Close()

			if err := runToCompletion(ctx, cfg, writer); err != nil {
				return err
			}

			empty, err := checkLogIsEmpty(reviewLogPath)
			if err != nil {
				return err
			}
			if !empty {
				return dtserr.New(dtserr.KindInvariant, "review found remaining diffs/misses in %s", reviewLogPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reviewLogPath, "review-log", "", "path for the review run's check log (default: <check_log_dir>.review)")
	return cmd
}

func checkLogIsEmpty(path string) (bool, error) {
	batches, err := readCheckLog(path)
	if err != nil {
		return false, err
	}
	return len(batches) == 0, nil
}
