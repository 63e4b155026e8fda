// Package consensus implements the block-based price consensus resolver:
// sliding-window block building over price-sorted offers and the
// tolerance-escalating controller that verifies offers against the store
// lookup provider.
package consensus

import (
	"sort"

	"github.com/sells-group/quote-engine/internal/model"
)

// Variation returns the relative price spread (max/min - 1) * 100 for a
// window bounded by its cheapest and most expensive offer.
func Variation(min, max float64) float64 {
	if min <= 0 {
		return 0
	}
	return (max/min - 1) * 100
}

// BuildBlocks forms sliding-window blocks over a price-sorted offer list.
// For every start index the window extends while its spread stays within
// tolerance, capped at maxSpan offers. A block is eligible when its size
// covers at least minSize offers. Pure function; safe to recompute every
// round.
func BuildBlocks(offers []model.Offer, tolerancePct float64, minSize, maxSpan int) []model.Block {
	if maxSpan <= 0 {
		maxSpan = len(offers)
	}

	var blocks []model.Block
	for start := 0; start < len(offers); start++ {
		min := offers[start].Price
		end := start
		for end+1 < len(offers) && end+1-start < maxSpan {
			if Variation(min, offers[end+1].Price) > tolerancePct {
				break
			}
			end++
		}

		window := offers[start : end+1]
		max := window[len(window)-1].Price
		blocks = append(blocks, model.Block{
			Index:        len(blocks),
			Offers:       window,
			PriceMin:     min,
			PriceMax:     max,
			VariationPct: Variation(min, max),
			Eligible:     len(window) >= minSize,
			Potential:    len(window),
		})
	}
	return blocks
}

// SelectBlock picks the eligible block with the highest potential.
// Ties break by smallest variation, then by lowest minimum price, so the
// choice is deterministic for a given offer list. Returns nil when no
// block is eligible; the caller treats that as an escalation signal, not
// an error.
func SelectBlock(blocks []model.Block) *model.Block {
	eligible := make([]model.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Eligible {
			eligible = append(eligible, b)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Potential != b.Potential {
			return a.Potential > b.Potential
		}
		if a.VariationPct != b.VariationPct {
			return a.VariationPct < b.VariationPct
		}
		return a.PriceMin < b.PriceMin
	})

	best := eligible[0]
	return &best
}
