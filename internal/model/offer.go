// Package model defines the core data types for price quotation runs.
package model

// Offer is a single marketplace search result with a price and a domain.
// Offers are immutable once ingested; Position is the stable rank assigned
// by the offer filter and is used in audit trails.
type Offer struct {
	Position  int     `json:"position"`
	Title     string  `json:"title"`
	Source    string  `json:"source"` // merchant label as reported by the search provider
	Domain    string  `json:"domain"`
	URL       string  `json:"url"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	ProductID string  `json:"product_id,omitempty"` // lookup handle for the store lookup provider
}

// HasLookupHandle reports whether the offer can be resolved against the
// store lookup provider.
func (o Offer) HasLookupHandle() bool {
	return o.ProductID != ""
}

// Block is a contiguous, price-sorted cluster of offers whose relative
// spread is within tolerance. Blocks are recomputed every round and never
// mutated.
type Block struct {
	Index        int     `json:"index"`
	Offers       []Offer `json:"offers"`
	PriceMin     float64 `json:"price_min"`
	PriceMax     float64 `json:"price_max"`
	VariationPct float64 `json:"variation_pct"` // (max/min - 1) * 100
	Eligible     bool    `json:"eligible"`
	Potential    int     `json:"potential"` // block size, the primary ranking key
}
