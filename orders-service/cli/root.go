package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/draftea/order-system/orders-service/config"
	"github.com/draftea/order-system/shared/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "orders-service",
	Short:         "Order status state machine and order creation saga",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (env ORDERS_* overrides it)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	logger := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		Service: cfg.Service.Name,
		Version: cfg.Telemetry.Version,
	})
	return cfg, logger, nil
}
