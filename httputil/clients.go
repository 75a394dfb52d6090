package httputil

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"vinted_scrooper/config"
)

type Clients struct {
	Scraping *http.Client // cookie-carrying, optionally proxied, for the marketplace
	API      *http.Client // direct, for object storage and health probes
}

func NewClients(cfg config.MarketplaceConfig) (*Clients, error) {
	scraping, err := NewScrapingClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// NewScrapingClient builds the client the marketplace session runs on. It owns
// a cookie jar so the bootstrap cookies travel with every later request.
func NewScrapingClient(cfg config.MarketplaceConfig) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		ForceAttemptHTTP2:   false,
		TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		Jar:       jar,
	}, nil
}
