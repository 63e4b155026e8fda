// Package extract pulls the displayed price out of rendered store pages.
// Pages are fetched through the scrape provider; parsing walks a fixed
// strategy chain from structured data down to a bare regex so a single
// badly-built storefront cannot sink the whole quote.
package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/quote-engine/pkg/firecrawl"
)

// Extraction stage names, in chain order.
const (
	StageJSONLD   = "jsonld"
	StageMeta     = "meta"
	StageSelector = "selector"
	StageRegex    = "regex"
)

const (
	defaultTimeoutMS   = 30_000
	defaultConcurrency = 3
)

// Config tunes page fetching and the selector stage.
type Config struct {
	// Selectors are CSS selectors tried, in order, after the structured
	// stages fail. Site operators add these for storefronts with neither
	// JSON-LD nor price metadata.
	Selectors []string

	// Screenshot requests a page capture alongside the HTML. The capture
	// is evidence for the final quote; fetch failures are non-fatal.
	Screenshot bool

	// TimeoutMS bounds the provider-side render of a single page.
	TimeoutMS int

	Concurrency int
}

// Extraction is the outcome for a single store page. Price is zero and Err
// non-nil when every stage failed.
type Extraction struct {
	URL        string
	Price      float64
	Stage      string
	Screenshot string
	Err        error
}

// Extractor fetches store pages and extracts their displayed price.
type Extractor struct {
	scraper firecrawl.Client
	cfg     Config
}

func New(scraper firecrawl.Client, cfg Config) *Extractor {
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = defaultTimeoutMS
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Extractor{scraper: scraper, cfg: cfg}
}

// ExtractAll fetches every URL in one provider batch and parses each page.
// When the batch endpoint fails the URLs are retried individually, so one
// provider hiccup degrades throughput rather than the result. The returned
// map is keyed by request URL and always has one entry per input.
func (e *Extractor) ExtractAll(ctx context.Context, urls []string) map[string]Extraction {
	out := make(map[string]Extraction, len(urls))
	if len(urls) == 0 {
		return out
	}

	pages, err := e.fetchBatch(ctx, urls)
	if err != nil {
		zap.L().Warn("extract: batch scrape failed, falling back to single fetches", zap.Error(err))
		pages = e.fetchSingle(ctx, urls)
	}

	for i, u := range urls {
		page, ok := pages[u]
		if !ok {
			// Provider echoed a different URL (redirect); fall back to
			// positional matching within the batch.
			page, ok = pages[positionalKey(i)]
		}
		if !ok {
			out[u] = Extraction{URL: u, Err: eris.New("extract: page missing from batch response")}
			continue
		}
		ex := Parse(page.RawHTML, e.cfg.Selectors)
		ex.URL = u
		ex.Screenshot = page.Screenshot
		out[u] = ex
	}
	return out
}

func (e *Extractor) formats() []string {
	f := []string{"rawHtml"}
	if e.cfg.Screenshot {
		f = append(f, "screenshot")
	}
	return f
}

func (e *Extractor) fetchBatch(ctx context.Context, urls []string) (map[string]firecrawl.PageData, error) {
	resp, err := e.scraper.BatchScrape(ctx, firecrawl.BatchScrapeRequest{
		URLs:    urls,
		Formats: e.formats(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: start batch scrape")
	}
	status, err := firecrawl.PollBatchScrape(ctx, e.scraper, resp.ID)
	if err != nil {
		return nil, eris.Wrap(err, "extract: poll batch scrape")
	}

	pages := make(map[string]firecrawl.PageData, len(status.Data))
	for i, p := range status.Data {
		if p.URL != "" {
			pages[p.URL] = p
		}
		pages[positionalKey(i)] = p
	}
	return pages, nil
}

func (e *Extractor) fetchSingle(ctx context.Context, urls []string) map[string]firecrawl.PageData {
	var mu sync.Mutex
	pages := make(map[string]firecrawl.PageData, len(urls))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, u := range urls {
		g.Go(func() error {
			resp, err := e.scraper.Scrape(gCtx, firecrawl.ScrapeRequest{
				URL:     u,
				Formats: e.formats(),
				Timeout: e.cfg.TimeoutMS,
			})
			if err != nil {
				zap.L().Warn("extract: scrape failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			mu.Lock()
			pages[u] = resp.Data
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers log and swallow their own errors
	return pages
}

// positionalKey namespaces index-based entries so they cannot collide with
// request URLs.
func positionalKey(i int) string { return "\x00pos:" + strconv.Itoa(i) }

// Parse runs the strategy chain over one page's HTML. The first stage that
// yields a positive price wins; stage errors accumulate so a total miss
// reports everything that was tried.
func Parse(html string, selectors []string) Extraction {
	if strings.TrimSpace(html) == "" {
		return Extraction{Err: eris.New("extract: empty page")}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Extraction{Err: eris.Wrap(err, "extract: parse html")}
	}

	var errs []string
	try := func(stage string, fn func(*goquery.Document) (float64, error)) (Extraction, bool) {
		price, err := fn(doc)
		if err != nil {
			errs = append(errs, stage+": "+err.Error())
			return Extraction{}, false
		}
		return Extraction{Price: price, Stage: stage}, true
	}

	if ex, ok := try(StageJSONLD, fromJSONLD); ok {
		return ex
	}
	if ex, ok := try(StageMeta, fromMeta); ok {
		return ex
	}
	if ex, ok := try(StageSelector, func(d *goquery.Document) (float64, error) {
		return fromSelectors(d, selectors)
	}); ok {
		return ex
	}
	if ex, ok := try(StageRegex, fromRegex); ok {
		return ex
	}
	return Extraction{Err: eris.New("extract: no price found (" + strings.Join(errs, "; ") + ")")}
}

// fromJSONLD walks every ld+json script for a Product or Offer price.
// Documents in the wild nest offers as objects, arrays and @graph members.
func fromJSONLD(doc *goquery.Document) (float64, error) {
	var found float64
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return true
		}
		if p, ok := jsonLDPrice(v); ok {
			found = p
			return false
		}
		return true
	})
	if found > 0 {
		return found, nil
	}
	return 0, eris.New("no product price in ld+json")
}

func jsonLDPrice(v any) (float64, bool) {
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			if p, ok := jsonLDPrice(item); ok {
				return p, true
			}
		}
	case map[string]any:
		for _, key := range []string{"price", "lowPrice"} {
			if raw, ok := node[key]; ok {
				if p, err := toPrice(raw); err == nil {
					return p, true
				}
			}
		}
		for _, key := range []string{"offers", "@graph", "itemListElement", "item"} {
			if child, ok := node[key]; ok {
				if p, ok := jsonLDPrice(child); ok {
					return p, true
				}
			}
		}
	}
	return 0, false
}

func toPrice(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		if v > 0 {
			return v, nil
		}
		return 0, eris.New("non-positive price")
	case string:
		return parsePrice(v)
	default:
		return 0, eris.Errorf("unsupported price type %T", raw)
	}
}

var metaSelectors = []string{
	`meta[property="product:price:amount"]`,
	`meta[property="og:price:amount"]`,
	`meta[itemprop="price"]`,
	`[itemprop="price"]`,
}

// fromMeta reads OpenGraph and microdata price annotations.
func fromMeta(doc *goquery.Document) (float64, error) {
	for _, sel := range metaSelectors {
		var found float64
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			raw, ok := s.Attr("content")
			if !ok {
				raw = s.Text()
			}
			if p, err := parsePrice(raw); err == nil {
				found = p
				return false
			}
			return true
		})
		if found > 0 {
			return found, nil
		}
	}
	return 0, eris.New("no price metadata")
}

func fromSelectors(doc *goquery.Document, selectors []string) (float64, error) {
	if len(selectors) == 0 {
		return 0, eris.New("no selectors configured")
	}
	for _, sel := range selectors {
		text := strings.TrimSpace(doc.Find(sel).First().Text())
		if text == "" {
			continue
		}
		if p, err := parsePrice(text); err == nil {
			return p, nil
		}
	}
	return 0, eris.New("no selector matched a price")
}

var currencyPattern = regexp.MustCompile(`(?:R\$|US\$|\$|€|£)\s*([0-9][0-9.,]*)`)

// fromRegex is the last resort: the first currency-marked number in the
// page body. Noisy pages make this wrong often enough that it never
// overrides the structured stages.
func fromRegex(doc *goquery.Document) (float64, error) {
	m := currencyPattern.FindStringSubmatch(doc.Find("body").Text())
	if m == nil {
		return 0, eris.New("no currency-marked number in body")
	}
	return parsePrice(m[1])
}

// parsePrice normalizes localized price strings. It accepts both decimal
// conventions: "R$ 1.234,56" and "$1,234.56" parse to the same value.
func parsePrice(raw string) (float64, error) {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return 0, eris.Errorf("extract: no digits in %q", raw)
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// 1.234,56
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			// 1,234.56
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// Decimal comma only when exactly two digits follow the last one;
		// otherwise commas are thousands separators.
		if len(s)-lastComma-1 == 2 {
			s = strings.ReplaceAll(s[:lastComma], ",", "") + "." + s[lastComma+1:]
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		// A dot with exactly three trailing digits is a thousands
		// separator ("1.234", "1.234.567"); anything else is decimal.
		if len(s)-lastDot-1 == 3 && (strings.Count(s, ".") > 1 || lastDot <= 3) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "extract: parse %q", raw)
	}
	if v <= 0 {
		return 0, eris.Errorf("extract: non-positive price %q", raw)
	}
	return v, nil
}
