package cli

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/draftea/order-system/orders-service/config"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run one saga recovery pass and print its summary",
	Long: `Resumes every saga execution left RUNNING or COMPENSATING, up to
saga.recovery_batch_size, then exits. The serve command runs the same pass
every saga.recovery_interval.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		deps, err := config.BuildDependencies(cmd.Context(), cfg, logger)
		if err != nil {
			return errors.Wrap(err, "failed to build dependencies")
		}
		defer func() { _ = deps.Close() }()

		summary, err := deps.RecoverSagas.Execute(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}
