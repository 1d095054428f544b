package main

import (
	"github.com/spf13/cobra"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dts",
		Short: "Heterogeneous data transport engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the task's .toml config file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newReviseCmd())
	root.AddCommand(newReviewCmd())
	return root
}
