package cli

import (
	"github.com/spf13/cobra"

	"github.com/draftea/order-system/orders-service/config"
	"github.com/draftea/order-system/orders-service/infrastructure"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the orders and saga log schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := config.OpenDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if err := infrastructure.Migrate(db); err != nil {
			return err
		}
		logger.Info().Msg("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
