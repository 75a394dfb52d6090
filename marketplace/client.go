// Package marketplace is the HTTP client for the marketplace's anonymous
// catalog API. A Client bootstraps a cookie session once and then issues
// paced GET requests that carry a browser user agent and those cookies.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"vinted_scrooper/models"
)

const (
	EndpointCatalogItems        = "/catalog/items"
	EndpointCatalogFilters      = "/catalog/filters"
	EndpointCatalogInitializers = "/catalog/initializers"

	apiPrefix = "/api/v2"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36"

type Options struct {
	BaseURL           string // e.g. https://www.vinted.fr
	UserAgent         string
	HTTPClient        *http.Client
	RequestsPerSecond float64 // <= 0 disables pacing
	Now               func() time.Time
}

// Response is the outcome of one API call. Body is nil unless the call
// returned 200 with a JSON body.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// OK reports whether the response carries a usable body.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode == http.StatusOK && r.Body != nil
}

type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	now       func() time.Time
	csrfToken string
}

// New builds a client and bootstraps its session. A bootstrap failure means
// no call can succeed, so it is returned to the caller as fatal.
func New(ctx context.Context, opts Options) (*Client, error) {
	c, err := newClient(opts)
	if err != nil {
		return nil, err
	}
	if err := c.FetchCookies(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap session: %w", err)
	}
	return c, nil
}

func newClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		httpClient.Jar = jar
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: userAgent,
		client:    httpClient,
		limiter:   rate.NewLimiter(limit, 1),
		now:       now,
	}, nil
}

// FetchCookies requests the site root so the jar picks up the session
// cookies. The page's csrf-token meta tag is kept when present.
func (c *Client) FetchCookies(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("site root returned %d", resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.Printf("marketplace: bootstrap page not parseable: %v", err)
		return nil
	}
	if token, ok := doc.Find(`meta[name="csrf-token"]`).Attr("content"); ok {
		c.csrfToken = strings.TrimSpace(token)
	}
	return nil
}

// Get calls an API endpoint. A transport failure is returned as an error;
// every HTTP status is a Response. There is no retry here.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + apiPrefix + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if c.csrfToken != "" {
		req.Header.Set("X-Csrf-Token", c.csrfToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &Response{StatusCode: resp.StatusCode}, nil
	}

	body, err := readBody(resp)
	if err != nil || !json.Valid(body) {
		return &Response{StatusCode: resp.StatusCode}, nil
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func (c *Client) Search(ctx context.Context, req models.SearchRequest) (*Response, error) {
	return c.Get(ctx, EndpointCatalogItems, req.Values(c.now()))
}

func (c *Client) CatalogFilters(ctx context.Context, catalogIDs []int64) (*Response, error) {
	params := url.Values{}
	params.Set("catalog_ids", models.JoinIDs(catalogIDs))
	params.Set("time", c.timestamp())
	return c.Get(ctx, EndpointCatalogFilters, params)
}

func (c *Client) CatalogsList(ctx context.Context) (*Response, error) {
	params := url.Values{}
	params.Set("page", "1")
	params.Set("time", c.timestamp())
	return c.Get(ctx, EndpointCatalogInitializers, params)
}

func (c *Client) timestamp() string {
	return strconv.FormatInt(c.now().Unix(), 10)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
}
