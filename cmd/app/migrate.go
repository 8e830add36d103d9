package main

import (
	"context"

	"homepro/internal/db"
	"homepro/internal/logger"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrations, _ := cmd.Flags().GetString("migrations")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			database, err := db.Connect(context.Background(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer database.Close()

			if down > 0 {
				if err := db.RollbackMigrations(database, migrations, down); err != nil {
					return err
				}
				logger.Info("Migrations rolled back", "steps", down)
				return nil
			}

			if err := db.RunMigrations(database, migrations); err != nil {
				return err
			}
			logger.Info("Migrations completed")
			return nil
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead of applying")
	return cmd
}
