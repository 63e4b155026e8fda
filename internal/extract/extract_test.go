package extract

import (
	"context"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quote-engine/pkg/firecrawl"
)

const jsonLDPage = `<html><head>
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"Product","name":"Widget",
 "offers":{"@type":"Offer","price":"1234.56","priceCurrency":"BRL"}}
</script>
</head><body><span>R$ 9.999,99</span></body></html>`

const metaPage = `<html><head>
<meta property="product:price:amount" content="79.90">
</head><body></body></html>`

const selectorPage = `<html><body>
<div class="product"><span class="price-tag">R$ 1.234,56</span></div>
</body></html>`

const regexPage = `<html><body><p>Por apenas R$ 49,90 à vista</p></body></html>`

func TestParse_JSONLDWins(t *testing.T) {
	ex := Parse(jsonLDPage, nil)
	require.NoError(t, ex.Err)
	assert.Equal(t, StageJSONLD, ex.Stage)
	assert.Equal(t, 1234.56, ex.Price)
}

func TestParse_JSONLDGraphAndArrays(t *testing.T) {
	page := `<html><head><script type="application/ld+json">
	{"@graph":[{"@type":"WebSite"},{"@type":"Product","offers":[{"price":250.0}]}]}
	</script></head><body></body></html>`

	ex := Parse(page, nil)
	require.NoError(t, ex.Err)
	assert.Equal(t, 250.0, ex.Price)
}

func TestParse_MetaFallback(t *testing.T) {
	ex := Parse(metaPage, nil)
	require.NoError(t, ex.Err)
	assert.Equal(t, StageMeta, ex.Stage)
	assert.Equal(t, 79.90, ex.Price)
}

func TestParse_ConfiguredSelector(t *testing.T) {
	ex := Parse(selectorPage, []string{".missing", ".price-tag"})
	require.NoError(t, ex.Err)
	assert.Equal(t, StageSelector, ex.Stage)
	assert.Equal(t, 1234.56, ex.Price)
}

func TestParse_RegexLastResort(t *testing.T) {
	ex := Parse(regexPage, nil)
	require.NoError(t, ex.Err)
	assert.Equal(t, StageRegex, ex.Stage)
	assert.Equal(t, 49.90, ex.Price)
}

func TestParse_NoPriceReportsAllStages(t *testing.T) {
	ex := Parse(`<html><body><p>sold out</p></body></html>`, []string{".price"})
	require.Error(t, ex.Err)
	for _, stage := range []string{StageJSONLD, StageMeta, StageSelector, StageRegex} {
		assert.Contains(t, ex.Err.Error(), stage)
	}
}

func TestParse_EmptyPage(t *testing.T) {
	ex := Parse("   ", nil)
	require.Error(t, ex.Err)
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"R$ 1.234,56", 1234.56},
		{"$1,234.56", 1234.56},
		{"1234.56", 1234.56},
		{"49,90", 49.90},
		{"1.234", 1234},
		{"1.234.567", 1234567},
		{"10.5", 10.5},
		{"€ 99", 99},
		{"US$ 2,499", 2499},
	}
	for _, tc := range cases {
		got, err := parsePrice(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "grátis", "0"} {
		_, err := parsePrice(bad)
		assert.Error(t, err, bad)
	}
}

type fakeScraper struct {
	mu          sync.Mutex
	batchErr    error
	pages       map[string]firecrawl.PageData
	scrapeCalls int
}

func (f *fakeScraper) Scrape(_ context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrapeCalls++
	page, ok := f.pages[req.URL]
	if !ok {
		return nil, eris.New("firecrawl: status 404")
	}
	return &firecrawl.ScrapeResponse{Success: true, Data: page}, nil
}

func (f *fakeScraper) BatchScrape(_ context.Context, req firecrawl.BatchScrapeRequest) (*firecrawl.BatchScrapeResponse, error) {
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return &firecrawl.BatchScrapeResponse{Success: true, ID: "batch-1"}, nil
}

func (f *fakeScraper) GetBatchScrapeStatus(_ context.Context, _ string) (*firecrawl.BatchScrapeStatusResponse, error) {
	var data []firecrawl.PageData
	for _, p := range f.pages {
		data = append(data, p)
	}
	return &firecrawl.BatchScrapeStatusResponse{Status: "completed", Total: len(data), Data: data}, nil
}

func TestExtractAll_Batch(t *testing.T) {
	urls := []string{"https://a.example/p", "https://b.example/p"}
	scraper := &fakeScraper{pages: map[string]firecrawl.PageData{
		urls[0]: {URL: urls[0], RawHTML: metaPage, Screenshot: "https://shots.example/a.png"},
		urls[1]: {URL: urls[1], RawHTML: regexPage},
	}}

	ex := New(scraper, Config{Screenshot: true})
	got := ex.ExtractAll(context.Background(), urls)

	require.Len(t, got, 2)
	require.NoError(t, got[urls[0]].Err)
	assert.Equal(t, 79.90, got[urls[0]].Price)
	assert.Equal(t, "https://shots.example/a.png", got[urls[0]].Screenshot)
	assert.Equal(t, 49.90, got[urls[1]].Price)
	assert.Zero(t, scraper.scrapeCalls, "batch path must not fall back")
}

func TestExtractAll_FallsBackToSingleScrapes(t *testing.T) {
	urls := []string{"https://a.example/p", "https://b.example/p"}
	scraper := &fakeScraper{
		batchErr: eris.New("firecrawl: status 502"),
		pages: map[string]firecrawl.PageData{
			urls[0]: {URL: urls[0], RawHTML: metaPage},
		},
	}

	ex := New(scraper, Config{})
	got := ex.ExtractAll(context.Background(), urls)

	require.Len(t, got, 2)
	assert.Equal(t, 79.90, got[urls[0]].Price)
	assert.Error(t, got[urls[1]].Err, "missing page is reported, not dropped")
	assert.Equal(t, 2, scraper.scrapeCalls)
}

func TestExtractAll_Empty(t *testing.T) {
	ex := New(&fakeScraper{}, Config{})
	assert.Empty(t, ex.ExtractAll(context.Background(), nil))
}
