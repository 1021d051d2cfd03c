package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "flowforge",
		Short: "Flowforge - workflow orchestration engine",
		Long: `Flowforge drives work items through a gated lifecycle, dispatches
signed webhook tasks to an external worker, and fans realtime progress
out to subscribers over WebSocket with a polling fallback.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
