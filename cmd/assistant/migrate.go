package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xaenox/assistant/internal/storage"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			// Opening a SQL store applies its schema.
			store, err := storage.Open(storageConfig(cfg.Database), logger)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			logger.Info("Schema is up to date", zap.String("driver", cfg.Database.Driver))
			return store.Close()
		},
	}
}
