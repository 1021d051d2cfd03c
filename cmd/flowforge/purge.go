package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/internal/config"
	"github.com/flowforge/flowforge/internal/store"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired task and log records",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		st, err := store.New(cfg.General.DatabasePath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()

		n, err := st.PurgeExpired(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("removed %d expired records\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
