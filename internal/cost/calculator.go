package cost

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/quote-engine/internal/model"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	SerpAPI   SerpAPIRate   `yaml:"serpapi" mapstructure:"serpapi"`
	Firecrawl FirecrawlRate `yaml:"firecrawl" mapstructure:"firecrawl"`
}

// SerpAPIRate holds per-call pricing for the offer search provider. Both
// the shopping search and the per-product seller lookup bill one credit.
type SerpAPIRate struct {
	PerSearch float64 `yaml:"per_search" mapstructure:"per_search"`
	PerLookup float64 `yaml:"per_lookup" mapstructure:"per_lookup"`
}

// FirecrawlRate holds per-scrape pricing for the page fetch provider.
type FirecrawlRate struct {
	PerScrape float64 `yaml:"per_scrape" mapstructure:"per_scrape"`
}

// DefaultRates returns the default pricing rates, derived from the
// providers' entry-level plans.
func DefaultRates() Rates {
	return Rates{
		SerpAPI:   SerpAPIRate{PerSearch: 0.015, PerLookup: 0.015},
		Firecrawl: FirecrawlRate{PerScrape: 0.0063},
	}
}

// Calculator computes costs for provider usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Total prices a run's billable call counts.
func (c *Calculator) Total(searches, lookups, scrapes int) float64 {
	return float64(searches)*c.rates.SerpAPI.PerSearch +
		float64(lookups)*c.rates.SerpAPI.PerLookup +
		float64(scrapes)*c.rates.Firecrawl.PerScrape
}

var (
	searchCalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quote_engine",
		Name:      "serpapi_search_calls_total",
		Help:      "Billable shopping search calls.",
	})
	lookupCalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quote_engine",
		Name:      "serpapi_lookup_calls_total",
		Help:      "Billable product seller lookup calls.",
	})
	scrapeCalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quote_engine",
		Name:      "firecrawl_scrape_calls_total",
		Help:      "Billable page scrape calls.",
	})
	spendUSD = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quote_engine",
		Name:      "provider_spend_usd_total",
		Help:      "Estimated provider spend in USD.",
	})
)

// Tracker counts billable calls for one run and mirrors them into the
// process-wide Prometheus counters. Hook methods are safe for concurrent
// use; wire them into the provider clients' call hooks.
type Tracker struct {
	calc *Calculator

	mu       sync.Mutex
	searches int
	lookups  int
	scrapes  int
}

func NewTracker(calc *Calculator) *Tracker {
	return &Tracker{calc: calc}
}

// SerpAPIHook adapts the tracker to the search client's per-call hook.
func (t *Tracker) SerpAPIHook() func(op string) {
	return func(op string) {
		t.mu.Lock()
		defer t.mu.Unlock()
		switch op {
		case "search":
			t.searches++
			searchCalls.Inc()
			spendUSD.Add(t.calc.rates.SerpAPI.PerSearch)
		case "product":
			t.lookups++
			lookupCalls.Inc()
			spendUSD.Add(t.calc.rates.SerpAPI.PerLookup)
		}
	}
}

// AddScrapes records n billable page scrapes. The scrape provider bills
// per page, not per request, so batch fetches report their page count here
// instead of a per-request hook.
func (t *Tracker) AddScrapes(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scrapes += n
	scrapeCalls.Add(float64(n))
	spendUSD.Add(float64(n) * t.calc.rates.Firecrawl.PerScrape)
}

// Summary snapshots the run's counts and prices them.
func (t *Tracker) Summary() model.CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return model.CostSummary{
		SearchCalls: t.searches,
		LookupCalls: t.lookups,
		ScrapeCalls: t.scrapes,
		TotalUSD:    t.calc.Total(t.searches, t.lookups, t.scrapes),
	}
}
