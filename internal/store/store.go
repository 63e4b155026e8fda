package store

import (
	"context"

	"github.com/sells-group/quote-engine/internal/model"
)

// QuotationFilter specifies criteria for listing quotation runs.
type QuotationFilter struct {
	Status model.QuotationStatus `json:"status,omitempty"`
	Query  string                `json:"query,omitempty"`
	Limit  int                   `json:"limit,omitempty"`
	Offset int                   `json:"offset,omitempty"`
}

// Store defines the persistence interface for quotation runs.
type Store interface {
	// Quotations
	CreateQuotation(ctx context.Context, query string) (*model.Quotation, error)
	UpdateStatus(ctx context.Context, quotationID string, status model.QuotationStatus) error
	SetResult(ctx context.Context, quotationID string, status model.QuotationStatus, result *model.QuoteResult) error
	GetQuotation(ctx context.Context, quotationID string) (*model.Quotation, error)
	ListQuotations(ctx context.Context, filter QuotationFilter) ([]model.Quotation, error)

	// Round audit trail
	AppendRound(ctx context.Context, quotationID string, round model.Round) error
	ListRounds(ctx context.Context, quotationID string) ([]model.Round, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
