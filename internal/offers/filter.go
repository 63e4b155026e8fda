// Package offers filters raw marketplace search results down to the
// eligible, price-sorted offer list the consensus engine works on.
package offers

import (
	"net/url"
	"sort"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sells-group/quote-engine/internal/model"
)

// FilterConfig controls offer eligibility.
type FilterConfig struct {
	// BlockedDomains lists domains to reject, matched case-insensitively
	// against the offer domain and its parent domains.
	BlockedDomains []string

	// MinPrice drops offers priced at or below this threshold. Offers with
	// no price are always dropped.
	MinPrice float64

	// Locale, when set (BCP 47, e.g. "pt-BR"), restricts offers to the
	// target country's ccTLD.
	Locale string
}

// StepCount records input/output sizes for one filter step, for audit.
type StepCount struct {
	Name string `json:"name"`
	In   int    `json:"in"`
	Out  int    `json:"out"`
}

// FilterResult is the filtered, price-sorted offer list plus per-step
// audit counts.
type FilterResult struct {
	Offers []model.Offer `json:"offers"`
	Steps  []StepCount   `json:"steps"`
}

// Filter applies the eligibility rules in order: price threshold, domain
// rules, price sort, URL dedup. Survivors get a stable Position equal to
// their index in the final price-sorted order. Pure: the input slice is
// not modified, and re-filtering its own output is a no-op.
func Filter(raw []model.Offer, cfg FilterConfig) FilterResult {
	var res FilterResult

	step := func(name string, in []model.Offer, f func([]model.Offer) []model.Offer) []model.Offer {
		out := f(in)
		res.Steps = append(res.Steps, StepCount{Name: name, In: len(in), Out: len(out)})
		return out
	}

	ccTLD := LocaleTLD(cfg.Locale)
	blocked := lo.Map(cfg.BlockedDomains, func(d string, _ int) string {
		return strings.ToLower(strings.TrimSpace(d))
	})

	offers := step("price_threshold", raw, func(in []model.Offer) []model.Offer {
		return lo.Filter(in, func(o model.Offer, _ int) bool {
			return o.Price > 0 && o.Price > cfg.MinPrice
		})
	})

	offers = step("domain_rules", offers, func(in []model.Offer) []model.Offer {
		return lo.Filter(in, func(o model.Offer, _ int) bool {
			domain := strings.ToLower(o.Domain)
			if domainMatchesAny(domain, blocked) {
				return false
			}
			if ccTLD != "" && !strings.HasSuffix(domain, ccTLD) {
				return false
			}
			return true
		})
	})

	// Sort ascending by price before dedup so the first occurrence of a
	// URL is the cheapest-ranked one.
	sorted := make([]model.Offer, len(offers))
	copy(sorted, offers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	deduped := step("dedup_url", sorted, func(in []model.Offer) []model.Offer {
		return lo.UniqBy(in, func(o model.Offer) string { return NormalizeURL(o.URL) })
	})

	out := make([]model.Offer, len(deduped))
	for i, o := range deduped {
		o.Position = i
		out[i] = o
	}
	res.Offers = out

	zap.L().Debug("offers: filtered",
		zap.Int("raw", len(raw)),
		zap.Int("kept", len(out)),
	)
	return res
}

// NormalizeURL strips the query string and fragment, lowercases the host,
// and removes a trailing slash, so listing variants of the same product
// page dedupe together.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(raw, "/"))
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return strings.TrimRight(u.String(), "/")
}

// domainMatchesAny reports whether domain equals or is a subdomain of any
// entry in the blocklist.
func domainMatchesAny(domain string, blocked []string) bool {
	for _, b := range blocked {
		if b == "" {
			continue
		}
		if domain == b || strings.HasSuffix(domain, "."+b) {
			return true
		}
	}
	return false
}

// LocaleTLD maps a BCP 47 locale to the target country's ccTLD suffix
// (e.g. "pt-BR" -> ".br"). Returns "" when no region is derivable, which
// disables the locale constraint.
func LocaleTLD(locale string) string {
	if locale == "" {
		return ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		zap.L().Warn("offers: invalid locale, skipping TLD constraint", zap.String("locale", locale))
		return ""
	}
	region, _ := tag.Region()
	if !region.IsCountry() {
		return ""
	}
	return "." + strings.ToLower(region.String())
}
