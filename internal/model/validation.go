package model

// FailureCode classifies why an offer failed store resolution. Every code
// except APIError is permanent for the offer within a run.
type FailureCode string

const (
	FailureNone          FailureCode = ""
	FailureNoStoreLink   FailureCode = "no_store_link"
	FailureBlockedDomain FailureCode = "blocked_domain"
	FailureForeignDomain FailureCode = "foreign_domain"
	FailureDuplicateURL  FailureCode = "duplicate_url"
	FailureListingURL    FailureCode = "listing_url"
	FailurePriceMismatch FailureCode = "price_mismatch"
	FailureExtraction    FailureCode = "extraction_error"
	FailureAPIError      FailureCode = "api_error"
)

// Transient reports whether the failure class is eligible for a retry in a
// later round. Only provider transport errors qualify.
func (c FailureCode) Transient() bool {
	return c == FailureAPIError
}

// SelectedStore is the verified store backing a validated offer.
type SelectedStore struct {
	Name   string  `json:"name"`
	URL    string  `json:"url"`
	Domain string  `json:"domain"`
	Price  float64 `json:"price"`
}

// ValidationResult records one store-resolution attempt for an offer.
// Attempts are never repeated for the same offer/tolerance pair.
type ValidationResult struct {
	Offer   Offer          `json:"offer"`
	OK      bool           `json:"ok"`
	Failure FailureCode    `json:"failure,omitempty"`
	Store   *SelectedStore `json:"store,omitempty"`
}

// Success builds a successful ValidationResult.
func Success(offer Offer, store SelectedStore) ValidationResult {
	return ValidationResult{Offer: offer, OK: true, Store: &store}
}

// Failed builds a failed ValidationResult with the given code.
func Failed(offer Offer, code FailureCode) ValidationResult {
	return ValidationResult{Offer: offer, OK: false, Failure: code}
}
