package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/quote-engine/internal/model"
	"github.com/sells-group/quote-engine/internal/store"
)

var quotationsCmd = &cobra.Command{
	Use:   "quotations",
	Short: "Inspect quotation run history",
	Long:  "Commands for listing, viewing, and summarizing quotation runs.",
}

// -- quotations list --

var quotationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quotation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		status, _ := cmd.Flags().GetString("status")
		query, _ := cmd.Flags().GetString("query")
		limit, _ := cmd.Flags().GetInt("limit")

		quotations, err := st.ListQuotations(ctx, store.QuotationFilter{
			Status: model.QuotationStatus(status),
			Query:  query,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "quotations list")
		}

		if len(quotations) == 0 {
			fmt.Fprintln(os.Stderr, "No quotations found.")
			return nil
		}

		formatQuotationsList(os.Stdout, quotations)
		return nil
	},
}

// -- quotations show --

var quotationsShowCmd = &cobra.Command{
	Use:   "show <quotation-id>",
	Short: "Show full details of a quotation run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		q, err := st.GetQuotation(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "quotations show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(q)
	},
}

// -- quotations rounds --

var quotationsRoundsCmd = &cobra.Command{
	Use:   "rounds <quotation-id>",
	Short: "Show the round-by-round audit trail of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rounds, err := st.ListRounds(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "quotations rounds")
		}

		if len(rounds) == 0 {
			fmt.Fprintln(os.Stderr, "No rounds recorded.")
			return nil
		}

		formatRounds(os.Stdout, rounds)
		return nil
	},
}

// -- quotations stats --

var quotationsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate quotation statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		quotations, err := st.ListQuotations(ctx, store.QuotationFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "quotations stats")
		}

		formatQuotationStats(os.Stdout, computeQuotationStats(quotations))
		return nil
	},
}

func init() {
	quotationsListCmd.Flags().String("status", "", "filter by status (queued, searching, complete, exhausted, failed, ...)")
	quotationsListCmd.Flags().String("query", "", "filter by exact product query")
	quotationsListCmd.Flags().Int("limit", 50, "max number of quotations to display")

	quotationsCmd.AddCommand(quotationsListCmd)
	quotationsCmd.AddCommand(quotationsShowCmd)
	quotationsCmd.AddCommand(quotationsRoundsCmd)
	quotationsCmd.AddCommand(quotationsStatsCmd)
	rootCmd.AddCommand(quotationsCmd)
}

// quotationStats holds aggregate statistics computed from a set of runs.
type quotationStats struct {
	Total      int
	Complete   int
	Exhausted  int
	Failed     int
	InFlight   int
	AvgRounds  float64
	TotalSpend float64
}

func computeQuotationStats(quotations []model.Quotation) quotationStats {
	var s quotationStats
	s.Total = len(quotations)

	var roundSum, roundCount int
	for _, q := range quotations {
		switch q.Status {
		case model.QuotationComplete:
			s.Complete++
		case model.QuotationExhausted:
			s.Exhausted++
		case model.QuotationFailed:
			s.Failed++
		default:
			s.InFlight++
		}
		if q.Result != nil {
			roundSum += q.Result.RoundsUsed
			roundCount++
			s.TotalSpend += q.Result.Cost.TotalUSD
		}
	}

	if roundCount > 0 {
		s.AvgRounds = float64(roundSum) / float64(roundCount)
	}
	return s
}

func formatQuotationsList(out io.Writer, quotations []model.Quotation) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tQUERY\tSTATUS\tVALIDATED\tMEAN\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t---------\t----\t-------")

	for _, q := range quotations {
		query := q.Query
		if len(query) > 40 {
			query = query[:37] + "..."
		}

		validated, mean := "", ""
		if q.Result != nil {
			validated = fmt.Sprintf("%d/%d", q.Result.ValidatedCount, q.Result.TargetCount)
			if q.Result.ValidatedCount > 0 {
				mean = fmt.Sprintf("%.2f", q.Result.Summary.Mean)
			}
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(q.ID),
			query,
			q.Status,
			validated,
			mean,
			q.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func formatRounds(out io.Writer, rounds []model.Round) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROUND\tTOLERANCE\tBLOCK\tTESTED\tVALIDATED\tPENDING\tESCALATED")
	_, _ = fmt.Fprintln(w, "-----\t---------\t-----\t------\t---------\t-------\t---------")

	for _, r := range rounds {
		block := "-"
		if r.Block != nil {
			block = fmt.Sprintf("%d offers %.2f-%.2f", len(r.Block.Offers), r.Block.PriceMin, r.Block.PriceMax)
		}
		_, _ = fmt.Fprintf(w, "%d\t%.0f%%\t%s\t%d\t%d\t%d\t%t\n",
			r.Number,
			r.Tolerance,
			block,
			len(r.Tested),
			r.ValidatedAfter,
			r.PendingAfter,
			r.Escalated,
		)
	}
	_ = w.Flush()
}

func formatQuotationStats(out io.Writer, s quotationStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total quotations:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Exhausted:\t%d\n", s.Exhausted)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "In flight:\t%d\n", s.InFlight)
	if s.AvgRounds > 0 {
		_, _ = fmt.Fprintf(w, "Avg rounds:\t%.1f\n", s.AvgRounds)
	}
	_, _ = fmt.Fprintf(w, "Provider spend:\t$%.2f\n", s.TotalSpend)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
