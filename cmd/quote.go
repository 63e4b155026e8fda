package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quote-engine/internal/audit"
	"github.com/sells-group/quote-engine/internal/pipeline"
)

var quoteCmd = &cobra.Command{
	Use:   "quote <product query>",
	Short: "Run one quotation synchronously and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		query := strings.Join(args, " ")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		q, err := st.CreateQuotation(ctx, query)
		if err != nil {
			return eris.Wrap(err, "create quotation")
		}

		search, scraper := pipeline.DefaultFactories(cfg)
		runner := pipeline.New(cfg, st, audit.LogSink{}, search, scraper)

		result, err := runner.Run(ctx, q.ID, query)
		if err != nil {
			return eris.Wrap(err, "quotation run")
		}

		zap.L().Info("quotation finished",
			zap.String("quotation_id", q.ID),
			zap.Int("validated", result.ValidatedCount),
			zap.Int("target", result.TargetCount),
			zap.String("reason", string(result.Reason)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(quoteCmd)
}
