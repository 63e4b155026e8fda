// Package serpapi is a minimal client for the SerpApi Google Shopping
// endpoints used by the quotation engine: product search, and per-product
// seller lookup. Both calls are billable.
package serpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://serpapi.com"

// Client performs SerpApi shopping operations.
type Client interface {
	// Search runs a Google Shopping text search for the product query.
	Search(ctx context.Context, query string) (*SearchResponse, error)
	// ProductOffers looks up the sellers for a shopping result's product
	// handle. This is the expensive second-tier call.
	ProductOffers(ctx context.Context, productID string) (*ProductResponse, error)
}

// SearchResponse is the shopping search payload.
type SearchResponse struct {
	ShoppingResults []ShoppingResult `json:"shopping_results"`
}

// ShoppingResult is one raw shopping offer.
type ShoppingResult struct {
	Position  int     `json:"position"`
	Title     string  `json:"title"`
	Link      string  `json:"link"`
	Source    string  `json:"source"`
	Price     string  `json:"price"`
	Extracted float64 `json:"extracted_price"`
	Currency  string  `json:"currency,omitempty"`
	ProductID string  `json:"product_id"`
}

// ProductResponse is the product sellers payload.
type ProductResponse struct {
	Sellers SellersResults `json:"sellers_results"`
}

// SellersResults wraps the online seller list.
type SellersResults struct {
	OnlineSellers []Seller `json:"online_sellers"`
}

// Seller is one candidate store for a product.
type Seller struct {
	Name      string  `json:"name"`
	Link      string  `json:"link"`
	BasePrice string  `json:"base_price"`
	Extracted float64 `json:"extracted_base_price"`
}

// APIError is returned when SerpApi responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("serpapi: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithLocale sets the country (gl) and language (hl) request parameters.
func WithLocale(gl, hl string) Option {
	return func(c *httpClient) {
		c.gl = gl
		c.hl = hl
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithCallHook registers a callback invoked once per billable request
// with the operation name ("search" or "product").
func WithCallHook(hook func(op string)) Option {
	return func(c *httpClient) { c.onCall = hook }
}

type httpClient struct {
	apiKey  string
	baseURL string
	gl, hl  string
	http    *http.Client
	limiter *rate.Limiter
	onCall  func(op string)
}

// NewClient creates a SerpApi client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string) (*SearchResponse, error) {
	params := url.Values{}
	params.Set("engine", "google_shopping")
	params.Set("q", query)

	var resp SearchResponse
	if err := c.get(ctx, "search", params, &resp); err != nil {
		return nil, eris.Wrap(err, "serpapi: shopping search")
	}
	return &resp, nil
}

func (c *httpClient) ProductOffers(ctx context.Context, productID string) (*ProductResponse, error) {
	params := url.Values{}
	params.Set("engine", "google_product")
	params.Set("product_id", productID)
	params.Set("offers", "1")

	var resp ProductResponse
	if err := c.get(ctx, "product", params, &resp); err != nil {
		return nil, eris.Wrapf(err, "serpapi: product offers %s", productID)
	}
	return &resp, nil
}

func (c *httpClient) get(ctx context.Context, op string, params url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit wait")
		}
	}
	if c.onCall != nil {
		c.onCall(op)
	}

	params.Set("api_key", c.apiKey)
	if c.gl != "" {
		params.Set("gl", c.gl)
	}
	if c.hl != "" {
		params.Set("hl", c.hl)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
