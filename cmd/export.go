package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quote-engine/internal/export"
	"github.com/sells-group/quote-engine/internal/model"
	"github.com/sells-group/quote-engine/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export <output.xlsx>",
	Short: "Export quotation results to a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		quotations, err := st.ListQuotations(ctx, store.QuotationFilter{
			Status: model.QuotationStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "export list")
		}

		if len(quotations) == 0 {
			fmt.Fprintln(os.Stderr, "No quotations to export.")
			return nil
		}

		if err := export.WriteXLSX(args[0], quotations); err != nil {
			return err
		}

		zap.L().Info("export written",
			zap.String("path", args[0]),
			zap.Int("quotations", len(quotations)))
		return nil
	},
}

func init() {
	exportCmd.Flags().String("status", "", "only export quotations with this status")
	exportCmd.Flags().Int("limit", 1000, "max number of quotations to export")
	rootCmd.AddCommand(exportCmd)
}
