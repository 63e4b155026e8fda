// Package pipeline orchestrates a quotation run end to end: marketplace
// search, offer filtering, block consensus, site price extraction, and the
// final statistical summary. Every stage transition is persisted and
// published so callers can follow a run live or reconstruct it afterwards.
package pipeline

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quote-engine/internal/audit"
	"github.com/sells-group/quote-engine/internal/config"
	"github.com/sells-group/quote-engine/internal/consensus"
	"github.com/sells-group/quote-engine/internal/cost"
	"github.com/sells-group/quote-engine/internal/extract"
	"github.com/sells-group/quote-engine/internal/model"
	"github.com/sells-group/quote-engine/internal/offers"
	"github.com/sells-group/quote-engine/internal/resilience"
	"github.com/sells-group/quote-engine/internal/resolver"
	"github.com/sells-group/quote-engine/internal/stats"
	"github.com/sells-group/quote-engine/internal/store"
	"github.com/sells-group/quote-engine/pkg/firecrawl"
	"github.com/sells-group/quote-engine/pkg/serpapi"
)

// SearchFactory builds a search client with the given billing hook. The
// runner builds one client per run so call counts attribute to the right
// quotation.
type SearchFactory func(hook func(op string)) serpapi.Client

// ScrapeFactory builds a page fetch client.
type ScrapeFactory func() firecrawl.Client

// Runner executes quotation runs.
type Runner struct {
	cfg        *config.Config
	store      store.Store
	sink       audit.Sink
	newSearch  SearchFactory
	newScraper ScrapeFactory
}

// New creates a Runner with all dependencies.
func New(cfg *config.Config, st store.Store, sink audit.Sink, search SearchFactory, scraper ScrapeFactory) *Runner {
	if sink == nil {
		sink = audit.LogSink{}
	}
	return &Runner{
		cfg:        cfg,
		store:      st,
		sink:       sink,
		newSearch:  search,
		newScraper: scraper,
	}
}

// DefaultFactories builds provider factories from configuration.
func DefaultFactories(cfg *config.Config) (SearchFactory, ScrapeFactory) {
	search := func(hook func(op string)) serpapi.Client {
		return serpapi.NewClient(cfg.SerpAPI.Key,
			serpapi.WithBaseURL(cfg.SerpAPI.BaseURL),
			serpapi.WithLocale(cfg.SerpAPI.Country, cfg.SerpAPI.Language),
			serpapi.WithRateLimit(cfg.SerpAPI.RateLimit),
			serpapi.WithCallHook(hook),
		)
	}
	scraper := func() firecrawl.Client {
		return firecrawl.NewClient(cfg.Firecrawl.Key,
			firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL),
		)
	}
	return search, scraper
}

// Run executes one quotation run. The quotation record must already exist;
// terminal state and the result are persisted before returning. An error is
// returned only when the run could not complete (cancellation or a
// persistence failure), never for a run that merely fell short of target.
func (r *Runner) Run(ctx context.Context, quotationID, query string) (*model.QuoteResult, error) {
	log := zap.L().With(zap.String("quotation_id", quotationID), zap.String("query", query))
	log.Info("pipeline: starting quotation run")
	start := time.Now()

	tracker := cost.NewTracker(cost.NewCalculator(r.rates()))
	search := r.newSearch(tracker.SerpAPIHook())

	setStatus := func(status model.QuotationStatus) {
		if err := r.store.UpdateStatus(ctx, quotationID, status); err != nil {
			log.Warn("pipeline: update status", zap.Error(err))
		}
		r.sink.StatusChanged(ctx, quotationID, status)
	}

	fail := func(cause error) (*model.QuoteResult, error) {
		result := &model.QuoteResult{
			TargetCount: r.cfg.Consensus.TargetCount,
			Cost:        tracker.Summary(),
			Error:       cause.Error(),
		}
		if err := r.store.SetResult(ctx, quotationID, model.QuotationFailed, result); err != nil {
			log.Warn("pipeline: persist failed result", zap.Error(err))
		}
		r.sink.StatusChanged(ctx, quotationID, model.QuotationFailed)
		return result, cause
	}

	// Stage 1: marketplace search.
	setStatus(model.QuotationSearching)
	raw, err := r.search(ctx, search, query)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: search"))
	}

	// Stage 2: eligibility filtering.
	setStatus(model.QuotationFiltering)
	filtered := offers.Filter(raw, offers.FilterConfig{
		BlockedDomains: r.cfg.Filter.Blocklist,
		MinPrice:       r.cfg.Filter.MinPrice,
		Locale:         r.cfg.SerpAPI.Locale,
	})
	log.Info("pipeline: offers filtered",
		zap.Int("raw", len(raw)),
		zap.Int("eligible", len(filtered.Offers)))

	// Stage 3: block consensus over the store lookup provider.
	setStatus(model.QuotationResolving)
	res := resolver.New(search, resolver.Config{
		BlockedDomains: r.cfg.Filter.Blocklist,
		Locale:         r.cfg.SerpAPI.Locale,
		PriceCheck:     r.cfg.Resolver.PriceCheck,
		MismatchPct:    r.cfg.Resolver.MismatchPct,
		CacheTTL:       time.Duration(r.cfg.Resolver.CacheTTLMinutes) * time.Minute,
	})

	ctrl := consensus.New(consensus.Config{
		TargetCount:         r.cfg.Consensus.TargetCount,
		InitialTolerancePct: r.cfg.Consensus.InitialTolerancePct,
		ToleranceStepPct:    r.cfg.Consensus.ToleranceStepPct,
		ToleranceCeilingPct: r.cfg.Consensus.ToleranceCeilingPct,
		MaxRounds:           r.cfg.Consensus.MaxRounds,
		MaxBlockSpan:        r.cfg.Consensus.MaxBlockSpan,
		Concurrency:         r.cfg.Consensus.Concurrency,
	}, res)
	ctrl.OnRound = func(ctx context.Context, round model.Round) {
		if err := r.store.AppendRound(ctx, quotationID, round); err != nil {
			log.Warn("pipeline: persist round", zap.Int("round", round.Number), zap.Error(err))
		}
		r.sink.RoundCompleted(ctx, quotationID, round)
	}

	outcome, err := ctrl.Run(ctx, filtered.Offers)
	if err != nil {
		return fail(err)
	}
	accepted := consensus.Truncate(outcome.Validated, r.cfg.Consensus.TargetCount)

	// Stage 4: site price extraction with page capture, best-effort.
	var extractions map[string]extract.Extraction
	if r.cfg.Extract.Enabled && len(accepted) > 0 {
		setStatus(model.QuotationExtracting)
		extractions = r.extract(ctx, tracker, accepted)
	}

	result := r.assemble(outcome, accepted, extractions, tracker)

	status := model.QuotationExhausted
	if result.Complete() {
		status = model.QuotationComplete
	}
	if err := r.store.SetResult(ctx, quotationID, status, result); err != nil {
		return fail(eris.Wrap(err, "pipeline: persist result"))
	}
	r.sink.StatusChanged(ctx, quotationID, status)

	log.Info("pipeline: quotation run finished",
		zap.String("status", string(status)),
		zap.String("reason", string(result.Reason)),
		zap.Int("validated", result.ValidatedCount),
		zap.Int("rounds", result.RoundsUsed),
		zap.Float64("cost_usd", result.Cost.TotalUSD),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// search queries the marketplace and maps results to offers. Transport
// errors are retried; quota and auth errors are not.
func (r *Runner) search(ctx context.Context, client serpapi.Client, query string) ([]model.Offer, error) {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.ShouldRetry = func(err error) bool {
		var apiErr *serpapi.APIError
		if errors.As(err, &apiErr) {
			return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
		}
		return resilience.IsTransient(err)
	}
	retryCfg.OnRetry = resilience.RetryLogger("serpapi", "search")

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*serpapi.SearchResponse, error) {
		return client.Search(ctx, query)
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.Offer, 0, len(resp.ShoppingResults))
	for _, sr := range resp.ShoppingResults {
		out = append(out, model.Offer{
			Position:  sr.Position,
			Title:     sr.Title,
			Source:    sr.Source,
			Domain:    domainOf(sr.Link),
			URL:       sr.Link,
			Price:     sr.Extracted,
			Currency:  sr.Currency,
			ProductID: sr.ProductID,
		})
	}
	return out, nil
}

// extract fetches the accepted store pages and parses their prices. Every
// page fetch is billed whether or not parsing succeeds.
func (r *Runner) extract(ctx context.Context, tracker *cost.Tracker, accepted []model.ValidationResult) map[string]extract.Extraction {
	ex := extract.New(r.newScraper(), extract.Config{
		Selectors:  r.cfg.Extract.Selectors,
		Screenshot: r.cfg.Extract.Screenshot,
		TimeoutMS:  r.cfg.Extract.TimeoutSecs * 1000,
	})

	urls := make([]string, 0, len(accepted))
	for _, a := range accepted {
		urls = append(urls, a.Store.URL)
	}
	tracker.AddScrapes(len(urls))
	return ex.ExtractAll(ctx, urls)
}

// assemble builds the final result: per-quote prices by the configured
// source, outlier flags, and the summary over accepted prices.
func (r *Runner) assemble(outcome *consensus.Outcome, accepted []model.ValidationResult, extractions map[string]extract.Extraction, tracker *cost.Tracker) *model.QuoteResult {
	quotes := make([]model.AcceptedQuote, len(accepted))
	prices := make([]float64, len(accepted))
	for i, a := range accepted {
		q := model.AcceptedQuote{
			Offer:       a.Offer,
			Store:       *a.Store,
			FinalPrice:  a.Store.Price,
			PriceSource: model.PriceSourceSearch,
		}
		if ex, ok := extractions[a.Store.URL]; ok {
			q.ScreenshotURL = ex.Screenshot
			if ex.Err == nil && ex.Price > 0 {
				q.ExtractedPrice = ex.Price
				q.ExtractStage = ex.Stage
				if model.PriceSource(r.cfg.Extract.PriceSource) == model.PriceSourceSite {
					q.FinalPrice = ex.Price
					q.PriceSource = model.PriceSourceSite
				}
			}
		}
		quotes[i] = q
		prices[i] = q.FinalPrice
	}

	summary := stats.Analyze(prices)
	for i := range quotes {
		quotes[i].Outlier = summary.Outliers[i]
	}

	return &model.QuoteResult{
		Quotes: quotes,
		Summary: model.FinalQuote{
			AcceptedPrices: prices,
			OutlierCount:   summary.OutlierCount(),
			Mean:           summary.Mean,
			Min:            summary.Min,
			Max:            summary.Max,
		},
		TargetCount:    r.cfg.Consensus.TargetCount,
		ValidatedCount: len(accepted),
		Reason:         outcome.Reason,
		FinalTolerance: outcome.FinalTolerance,
		RoundsUsed:     outcome.RoundsUsed,
		Rounds:         outcome.Rounds,
		Cost:           tracker.Summary(),
	}
}

func (r *Runner) rates() cost.Rates {
	rates := cost.DefaultRates()
	if r.cfg.Pricing.SerpAPIPerSearch > 0 {
		rates.SerpAPI.PerSearch = r.cfg.Pricing.SerpAPIPerSearch
	}
	if r.cfg.Pricing.SerpAPIPerLookup > 0 {
		rates.SerpAPI.PerLookup = r.cfg.Pricing.SerpAPIPerLookup
	}
	if r.cfg.Pricing.FirecrawlPerScrape > 0 {
		rates.Firecrawl.PerScrape = r.cfg.Pricing.FirecrawlPerScrape
	}
	return rates
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
