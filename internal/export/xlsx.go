// Package export writes quotation results to spreadsheet files for
// procurement reporting.
package export

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/quote-engine/internal/model"
)

// WriteXLSX writes one workbook with a summary sheet and a quotes sheet per
// quotation. Quotations without a result get a summary row only.
func WriteXLSX(path string, quotations []model.Quotation) error {
	f := xlsx.NewFile()

	if err := addSummarySheet(f, quotations); err != nil {
		return err
	}
	if err := addQuotesSheet(f, quotations); err != nil {
		return err
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func addSummarySheet(f *xlsx.File, quotations []model.Quotation) error {
	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"ID", "Query", "Status", "Reason", "Validated", "Target", "Mean", "Min", "Max", "Rounds", "Tolerance %", "Cost USD", "Created"} {
		header.AddCell().SetString(h)
	}

	for _, q := range quotations {
		row := sheet.AddRow()
		row.AddCell().SetString(q.ID)
		row.AddCell().SetString(q.Query)
		row.AddCell().SetString(string(q.Status))
		if q.Result == nil {
			continue
		}
		r := q.Result
		row.AddCell().SetString(string(r.Reason))
		row.AddCell().SetInt(r.ValidatedCount)
		row.AddCell().SetInt(r.TargetCount)
		row.AddCell().SetFloat(r.Summary.Mean)
		row.AddCell().SetFloat(r.Summary.Min)
		row.AddCell().SetFloat(r.Summary.Max)
		row.AddCell().SetInt(r.RoundsUsed)
		row.AddCell().SetFloat(r.FinalTolerance)
		row.AddCell().SetFloat(r.Cost.TotalUSD)
		row.AddCell().SetString(q.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func addQuotesSheet(f *xlsx.File, quotations []model.Quotation) error {
	sheet, err := f.AddSheet("Quotes")
	if err != nil {
		return eris.Wrap(err, "export: add quotes sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Quotation", "Query", "Store", "Domain", "URL", "Final Price", "Price Source", "Extracted Price", "Stage", "Outlier", "Screenshot"} {
		header.AddCell().SetString(h)
	}

	for _, q := range quotations {
		if q.Result == nil {
			continue
		}
		for _, quote := range q.Result.Quotes {
			row := sheet.AddRow()
			row.AddCell().SetString(q.ID)
			row.AddCell().SetString(q.Query)
			row.AddCell().SetString(quote.Store.Name)
			row.AddCell().SetString(quote.Store.Domain)
			row.AddCell().SetString(quote.Store.URL)
			row.AddCell().SetFloat(quote.FinalPrice)
			row.AddCell().SetString(string(quote.PriceSource))
			if quote.ExtractedPrice > 0 {
				row.AddCell().SetFloat(quote.ExtractedPrice)
			} else {
				row.AddCell().SetString("")
			}
			row.AddCell().SetString(quote.ExtractStage)
			row.AddCell().SetString(fmt.Sprintf("%t", quote.Outlier))
			row.AddCell().SetString(quote.ScreenshotURL)
		}
	}
	return nil
}
