package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/quote-engine/internal/model"
)

func TestComputeQuotationStats(t *testing.T) {
	quotations := []model.Quotation{
		{Status: model.QuotationComplete, Result: &model.QuoteResult{RoundsUsed: 2, Cost: model.CostSummary{TotalUSD: 0.10}}},
		{Status: model.QuotationComplete, Result: &model.QuoteResult{RoundsUsed: 4, Cost: model.CostSummary{TotalUSD: 0.25}}},
		{Status: model.QuotationExhausted, Result: &model.QuoteResult{RoundsUsed: 9, Cost: model.CostSummary{TotalUSD: 0.40}}},
		{Status: model.QuotationFailed},
		{Status: model.QuotationResolving},
	}

	s := computeQuotationStats(quotations)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.Exhausted)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.InFlight)
	assert.InDelta(t, 5.0, s.AvgRounds, 0.001)
	assert.InDelta(t, 0.75, s.TotalSpend, 0.001)
}

func TestComputeQuotationStats_Empty(t *testing.T) {
	s := computeQuotationStats(nil)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.AvgRounds)
}

func TestFormatQuotationsList(t *testing.T) {
	var buf bytes.Buffer
	formatQuotationsList(&buf, []model.Quotation{
		{
			ID:        "0b7f8c3a-1111-2222-3333-444455556666",
			Query:     "iphone 15 128gb",
			Status:    model.QuotationComplete,
			CreatedAt: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC),
			Result: &model.QuoteResult{
				TargetCount:    3,
				ValidatedCount: 3,
				Summary:        model.FinalQuote{Mean: 4599.90},
			},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "0b7f8c3a")
	assert.NotContains(t, out, "444455556666")
	assert.Contains(t, out, "iphone 15 128gb")
	assert.Contains(t, out, "3/3")
	assert.Contains(t, out, "4599.90")
}

func TestFormatRounds(t *testing.T) {
	var buf bytes.Buffer
	formatRounds(&buf, []model.Round{
		{
			Number:    1,
			Tolerance: 25,
			Block: &model.Block{
				Offers:   []model.Offer{{Price: 100}, {Price: 110}},
				PriceMin: 100,
				PriceMax: 110,
			},
			Tested:         []model.ValidationResult{{}, {}},
			ValidatedAfter: 1,
			PendingAfter:   5,
			Escalated:      true,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "25%")
	assert.Contains(t, out, "2 offers 100.00-110.00")
	assert.Contains(t, out, "true")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "0b7f8c3a", truncateID("0b7f8c3a-1111-2222"))
	assert.Equal(t, "short", truncateID("short"))
}
