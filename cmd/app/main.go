package main

import (
	"os"

	"homepro/internal/logger"

	"github.com/spf13/cobra"
)

// @title HomePro API
// @version 1.0
// @description Service categories and subscription billing for home-service professionals.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "app",
		Short:         "HomePro categories and subscription billing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("migrations", "migrations", "path to the SQL migrations directory")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newBillCmd())
	return root
}
