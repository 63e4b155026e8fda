// Package stats flags statistical outliers in the accepted price set and
// computes the final summary. Pure and deterministic; no I/O.
package stats

import (
	"sort"

	"github.com/samber/lo"
)

// Summary holds the outlier-filtered price statistics.
type Summary struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`

	// Outliers flags each input price, index-aligned with the input.
	Outliers []bool `json:"outliers"`

	// Degraded is set when every price fell outside the IQR bounds and
	// all were retained as a fallback.
	Degraded bool `json:"degraded"`
}

// OutlierCount returns the number of flagged prices.
func (s Summary) OutlierCount() int {
	return lo.Count(s.Outliers, true)
}

// Analyze applies the 1.5-IQR rule over the prices and computes mean, min
// and max over the survivors. With a single price outlier detection is
// skipped. If exclusion would leave zero prices, all prices are retained
// and the summary is marked degraded.
func Analyze(prices []float64) Summary {
	s := Summary{Outliers: make([]bool, len(prices))}
	if len(prices) == 0 {
		return s
	}
	if len(prices) == 1 {
		s.Mean, s.Min, s.Max = prices[0], prices[0], prices[0]
		return s
	}

	q1, q3 := Quartiles(prices)
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	kept := make([]float64, 0, len(prices))
	for i, p := range prices {
		if p < lower || p > upper {
			s.Outliers[i] = true
			continue
		}
		kept = append(kept, p)
	}

	if len(kept) == 0 {
		// Degenerate: keep everything rather than report nothing.
		s.Degraded = true
		s.Outliers = make([]bool, len(prices))
		kept = prices
	}

	s.Min = lo.Min(kept)
	s.Max = lo.Max(kept)
	s.Mean = lo.Sum(kept) / float64(len(kept))
	return s
}

// Quartiles returns Q1 and Q3 computed with linear interpolation between
// the closest ranks.
func Quartiles(prices []float64) (q1, q3 float64) {
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)
	return percentile(sorted, 0.25), percentile(sorted, 0.75)
}

// percentile expects sorted input and interpolates at p in [0, 1].
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := p * float64(len(sorted)-1)
	idx := int(pos)
	if idx >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(idx)
	return sorted[idx] + frac*(sorted[idx+1]-sorted[idx])
}
