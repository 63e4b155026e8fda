// Package resolver verifies offers against the product lookup provider and
// selects the store page that backs each validated offer. It is the expensive
// half of the consensus loop: one lookup call per offer, cached per product
// handle so repeat rounds over the same offer never bill twice.
package resolver

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/sells-group/quote-engine/internal/model"
	"github.com/sells-group/quote-engine/internal/offers"
	"github.com/sells-group/quote-engine/internal/resilience"
	"github.com/sells-group/quote-engine/pkg/serpapi"
)

// Config tunes store selection. Zero values fall back to defaults in New.
type Config struct {
	// BlockedDomains rejects seller links whose host matches or is a
	// subdomain of any entry. Matching is case-insensitive.
	BlockedDomains []string

	// Locale is the BCP 47 run locale. When it carries a region, seller
	// hosts outside that country's ccTLD (and the generic gTLDs) are
	// rejected as foreign.
	Locale string

	// PriceCheck rejects sellers whose quoted price strays more than
	// MismatchPct from the offer price. Disabled when false.
	PriceCheck  bool
	MismatchPct float64

	// CacheTTL bounds how long a product lookup response is reused.
	CacheTTL time.Duration
}

const (
	defaultMismatchPct = 5.0
	defaultCacheTTL    = 15 * time.Minute
)

// Resolver implements consensus.Resolver over the lookup provider. A
// circuit breaker sits in front of the provider so a dead upstream fails
// rounds fast instead of burning the round budget on timeouts.
type Resolver struct {
	lookup  serpapi.Client
	cfg     Config
	ccTLD   string
	cache   *gocache.Cache
	breaker *resilience.CircuitBreaker
}

func New(lookup serpapi.Client, cfg Config) *Resolver {
	if cfg.MismatchPct <= 0 {
		cfg.MismatchPct = defaultMismatchPct
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &Resolver{
		lookup:  lookup,
		cfg:     cfg,
		ccTLD:   offers.LocaleTLD(cfg.Locale),
		cache:   gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
}

// Resolve verifies a single offer. It walks the seller list for the offer's
// product handle in provider order and returns the first acceptable store.
// used holds normalized store URLs already claimed in this run.
func (r *Resolver) Resolve(ctx context.Context, offer model.Offer, used map[string]struct{}) model.ValidationResult {
	if !offer.HasLookupHandle() {
		return model.Failed(offer, model.FailureNoStoreLink)
	}

	sellers, err := r.sellers(ctx, offer.ProductID)
	if err != nil {
		zap.L().Warn("resolver: product lookup failed",
			zap.Int("position", offer.Position),
			zap.String("product_id", offer.ProductID),
			zap.Error(err))
		return model.Failed(offer, model.FailureAPIError)
	}
	if len(sellers) == 0 {
		return model.Failed(offer, model.FailureNoStoreLink)
	}

	mismatch := false
	last := model.FailureNone
	for _, s := range sellers {
		u, err := url.Parse(s.Link)
		if err != nil || u.Host == "" {
			continue
		}
		host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))

		switch {
		case r.blockedHost(host):
			last = model.FailureBlockedDomain
		case r.foreignHost(host):
			last = model.FailureForeignDomain
		case r.claimed(s.Link, used):
			last = model.FailureDuplicateURL
		case isListingURL(u):
			last = model.FailureListingURL
		case r.priceMismatch(offer, s):
			mismatch = true
		default:
			return model.Success(offer, model.SelectedStore{
				Name:   s.Name,
				URL:    s.Link,
				Domain: host,
				Price:  storePrice(offer, s),
			})
		}
	}

	// Exhausted the seller list. A price disagreement anywhere dominates
	// the offer-level code; otherwise report the last rejection.
	switch {
	case mismatch:
		return model.Failed(offer, model.FailurePriceMismatch)
	case last != model.FailureNone:
		return model.Failed(offer, last)
	default:
		return model.Failed(offer, model.FailureNoStoreLink)
	}
}

// sellers returns the online seller list for a product handle, serving from
// the TTL cache when the handle was looked up recently.
func (r *Resolver) sellers(ctx context.Context, productID string) ([]serpapi.Seller, error) {
	if v, ok := r.cache.Get(productID); ok {
		return v.([]serpapi.Seller), nil
	}
	resp, err := resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (*serpapi.ProductResponse, error) {
		return r.lookup.ProductOffers(ctx, productID)
	})
	if err != nil {
		return nil, err
	}
	list := resp.Sellers.OnlineSellers
	r.cache.Set(productID, list, gocache.DefaultExpiration)
	return list, nil
}

func (r *Resolver) blockedHost(host string) bool {
	for _, b := range r.cfg.BlockedDomains {
		b = strings.ToLower(strings.TrimSpace(b))
		if b == "" {
			continue
		}
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}

// foreignHost rejects hosts under another country's ccTLD when the run is
// locale-constrained. Generic TLDs pass; the marketplace already geo-scoped
// the search, so .com results are assumed local.
func (r *Resolver) foreignHost(host string) bool {
	if r.ccTLD == "" {
		return false
	}
	if strings.HasSuffix(host, r.ccTLD) {
		return false
	}
	dot := strings.LastIndex(host, ".")
	if dot < 0 {
		return false
	}
	tld := host[dot:]
	return len(tld) == 3 && !genericTLDs[tld]
}

var genericTLDs = map[string]bool{
	".co": true, // ambiguous; treated as generic to avoid false rejects
	".io": true,
	".me": true,
	".tv": true,
}

func (r *Resolver) claimed(link string, used map[string]struct{}) bool {
	_, taken := used[offers.NormalizeURL(link)]
	return taken
}

func (r *Resolver) priceMismatch(offer model.Offer, s serpapi.Seller) bool {
	if !r.cfg.PriceCheck || offer.Price <= 0 || s.Extracted <= 0 {
		return false
	}
	diff := s.Extracted - offer.Price
	if diff < 0 {
		diff = -diff
	}
	return diff/offer.Price*100 > r.cfg.MismatchPct
}

// storePrice prefers the seller's quoted price and falls back to the
// marketplace offer price when the provider gave no extractable number.
func storePrice(offer model.Offer, s serpapi.Seller) float64 {
	if s.Extracted > 0 {
		return s.Extracted
	}
	return offer.Price
}

// listingPathPattern matches category, search and catalog paths that point at
// a result grid rather than a single product page.
var listingPathPattern = regexp.MustCompile(`(?i)(^|/)(search|busca|pesquisa|categoria|category|catalog|catalogo|collections?|list|c|s)(/|$)`)

func isListingURL(u *url.URL) bool {
	if listingPathPattern.MatchString(u.Path) {
		return true
	}
	q := u.Query()
	for _, k := range []string{"q", "query", "search", "k", "term"} {
		if q.Get(k) != "" {
			return true
		}
	}
	return false
}
