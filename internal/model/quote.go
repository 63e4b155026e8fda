package model

import "time"

// QuotationStatus represents the current state of a quotation run.
type QuotationStatus string

const (
	QuotationQueued     QuotationStatus = "queued"
	QuotationSearching  QuotationStatus = "searching"
	QuotationFiltering  QuotationStatus = "filtering"
	QuotationResolving  QuotationStatus = "resolving"
	QuotationExtracting QuotationStatus = "extracting"
	QuotationComplete   QuotationStatus = "complete"
	QuotationExhausted  QuotationStatus = "exhausted"
	QuotationFailed     QuotationStatus = "failed"
)

// TerminalReason explains why a run ended short of its target.
type TerminalReason string

const (
	ReasonTargetReached       TerminalReason = "target_reached"
	ReasonNoOffers            TerminalReason = "no_offers"
	ReasonNoEligibleBlocks    TerminalReason = "no_eligible_blocks"
	ReasonAllOffersDiscarded  TerminalReason = "all_offers_discarded"
	ReasonRoundBudgetExceeded TerminalReason = "round_budget_exceeded"
	ReasonToleranceCeiling    TerminalReason = "tolerance_ceiling"
)

// PriceSource selects which price backs an accepted quote when the
// extracted site price and the resolver-reported price disagree.
type PriceSource string

const (
	// PriceSourceSearch uses the store lookup provider's quoted price.
	PriceSourceSearch PriceSource = "search"
	// PriceSourceSite prefers the price extracted from the store page,
	// falling back to the lookup price when extraction fails.
	PriceSourceSite PriceSource = "site"
)

// Quotation is a single quotation run for a product query.
type Quotation struct {
	ID        string          `json:"id"`
	Query     string          `json:"query"`
	Status    QuotationStatus `json:"status"`
	Result    *QuoteResult    `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AcceptedQuote is one verified comparable price in the final set.
type AcceptedQuote struct {
	Offer          Offer         `json:"offer"`
	Store          SelectedStore `json:"store"`
	FinalPrice     float64       `json:"final_price"`
	PriceSource    PriceSource   `json:"price_source"`
	ExtractedPrice float64       `json:"extracted_price,omitempty"`
	ExtractStage   string        `json:"extract_stage,omitempty"`
	ScreenshotURL  string        `json:"screenshot_url,omitempty"`
	Outlier        bool          `json:"outlier"`
}

// FinalQuote is the derived price summary over the accepted set. It is
// computed once from the validated results and never mutates them.
type FinalQuote struct {
	AcceptedPrices []float64 `json:"accepted_prices"`
	OutlierCount   int       `json:"outlier_count"`
	Mean           float64   `json:"mean"`
	Min            float64   `json:"min"`
	Max            float64   `json:"max"`
}

// CostSummary counts billable provider calls consumed by a run.
type CostSummary struct {
	SearchCalls int     `json:"search_calls"`
	LookupCalls int     `json:"lookup_calls"`
	ScrapeCalls int     `json:"scrape_calls"`
	TotalUSD    float64 `json:"total_usd"`
}

// QuoteResult is the final outcome of a quotation run.
type QuoteResult struct {
	Quotes         []AcceptedQuote `json:"quotes"`
	Summary        FinalQuote      `json:"summary"`
	TargetCount    int             `json:"target_count"`
	ValidatedCount int             `json:"validated_count"`
	Reason         TerminalReason  `json:"reason"`
	FinalTolerance float64         `json:"final_tolerance"`
	RoundsUsed     int             `json:"rounds_used"`
	Rounds         []Round         `json:"rounds,omitempty"`
	Cost           CostSummary     `json:"cost"`
	Error          string          `json:"error,omitempty"`
}

// Complete reports whether the run reached its target count.
func (r *QuoteResult) Complete() bool {
	return r.ValidatedCount >= r.TargetCount
}
