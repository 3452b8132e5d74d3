package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var importJSON bool

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Run one import pass over every configured integration",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.dispatcher.Run(cmd.Context())
		if err != nil {
			return err
		}

		if importJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		written, dropped := report.Totals()
		fmt.Printf("Run %s: %d integrations, %d rows written, %d dropped, %d failed, %d skipped\n",
			report.RunID, len(report.Results), written, dropped, len(report.Failed()), len(report.Skipped()))
		for _, res := range report.Failed() {
			fmt.Printf("  %s %s/%s: %s\n", res.IntegrationID, res.Provider, res.Type, res.Error)
		}

		if failed := len(report.Failed()); failed > 0 {
			a.logger.Warn("Import finished with failures", zap.Int("failed", failed))
		}
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importJSON, "json", false, "print the run report as JSON")
}
