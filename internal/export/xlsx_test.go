package export

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/quote-engine/internal/model"
)

func sampleQuotations() []model.Quotation {
	return []model.Quotation{
		{
			ID:        "q-1",
			Query:     "widget pro",
			Status:    model.QuotationComplete,
			CreatedAt: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
			Result: &model.QuoteResult{
				Quotes: []model.AcceptedQuote{
					{
						Store:       model.SelectedStore{Name: "Store A", Domain: "a.example.com", URL: "https://a.example.com/p/1", Price: 100},
						FinalPrice:  100,
						PriceSource: model.PriceSourceSearch,
					},
					{
						Store:          model.SelectedStore{Name: "Store B", Domain: "b.example.com", URL: "https://b.example.com/p/2", Price: 104},
						FinalPrice:     103.5,
						PriceSource:    model.PriceSourceSite,
						ExtractedPrice: 103.5,
						ExtractStage:   "meta",
						ScreenshotURL:  "https://shots.example.com/2.png",
					},
				},
				Summary:        model.FinalQuote{AcceptedPrices: []float64{100, 103.5}, Mean: 101.75, Min: 100, Max: 103.5},
				TargetCount:    3,
				ValidatedCount: 2,
				Reason:         model.ReasonToleranceCeiling,
				FinalTolerance: 60,
				RoundsUsed:     7,
				Cost:           model.CostSummary{SearchCalls: 1, LookupCalls: 9, TotalUSD: 0.15},
			},
		},
		{
			ID:        "q-2",
			Query:     "pending thing",
			Status:    model.QuotationSearching,
			CreatedAt: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
		},
	}
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.xlsx")
	require.NoError(t, WriteXLSX(path, sampleQuotations()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	summary := f.Sheets[0]
	assert.Equal(t, "Summary", summary.Name)
	require.Len(t, summary.Rows, 3) // header + two quotations
	assert.Equal(t, "q-1", summary.Rows[1].Cells[0].String())
	assert.Equal(t, "complete", summary.Rows[1].Cells[2].String())
	assert.Equal(t, "tolerance_ceiling", summary.Rows[1].Cells[3].String())
	// q-2 has no result: only the id/query/status cells are filled.
	assert.Equal(t, "q-2", summary.Rows[2].Cells[0].String())
	assert.Len(t, summary.Rows[2].Cells, 3)

	quotes := f.Sheets[1]
	assert.Equal(t, "Quotes", quotes.Name)
	require.Len(t, quotes.Rows, 3) // header + two accepted quotes
	assert.Equal(t, "Store A", quotes.Rows[1].Cells[2].String())
	assert.Equal(t, "site", quotes.Rows[2].Cells[6].String())
	assert.Equal(t, "meta", quotes.Rows[2].Cells[8].String())
}

func TestWriteXLSX_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, WriteXLSX(path, nil))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)
	assert.Len(t, f.Sheets[0].Rows, 1)
	assert.Len(t, f.Sheets[1].Rows, 1)
}
