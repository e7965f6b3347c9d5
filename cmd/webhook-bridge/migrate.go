package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/pkg/config"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/runtime"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := runtime.OpenStorage(cfg.Storage)
			if err != nil {
				return fmt.Errorf("migrate %s storage: %w", storageType(cfg.Storage), err)
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("close storage: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s storage is up to date\n", storageType(cfg.Storage))
			return nil
		},
	}
}

func storageType(sc config.StorageConfig) string {
	if sc.Type == "" {
		return "sqlite"
	}
	return sc.Type
}
