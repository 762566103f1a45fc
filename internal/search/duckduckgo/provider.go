// Package duckduckgo searches the DuckDuckGo HTML endpoint.
package duckduckgo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-archiver/internal/archive"
)

const (
	// DefaultEndpoint is the JavaScript-free results page.
	DefaultEndpoint = "https://html.duckduckgo.com/html/"
	// DefaultLimit matches the number of hits on one results page.
	DefaultLimit   = 10
	defaultTimeout = 15 * time.Second
)

// Config controls the search request.
type Config struct {
	Endpoint  string
	Region    string
	UserAgent string
	Timeout   time.Duration
}

// Provider implements archive.SearchProvider.
type Provider struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New validates cfg and builds a Provider.
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("invalid search endpoint %q", cfg.Endpoint)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &Provider{cfg: cfg, baseCollector: c, logger: logger}, nil
}

// Search returns at most limit organic hits for query, in page order.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]archive.CandidateItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	var (
		items    []archive.CandidateItem
		parseErr error
		fetchErr error
	)
	collector := p.baseCollector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			parseErr = fmt.Errorf("parse results page: %w", err)
			return
		}
		items = ParseResults(doc, limit)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			fetchErr = fmt.Errorf("search endpoint returned %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(p.searchURL(query))
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("search canceled: %w", ctx.Err())
	case err := <-done:
		switch {
		case fetchErr != nil:
			return nil, fmt.Errorf("search %q: %w", query, fetchErr)
		case err != nil:
			return nil, fmt.Errorf("search %q: %w", query, err)
		case parseErr != nil:
			return nil, parseErr
		}
	}
	p.logger.Debug("search completed", zap.String("query", query), zap.Int("results", len(items)))
	return items, nil
}

func (p *Provider) searchURL(query string) string {
	params := url.Values{"q": {query}}
	if p.cfg.Region != "" {
		params.Set("kl", p.cfg.Region)
	}
	sep := "?"
	if strings.Contains(p.cfg.Endpoint, "?") {
		sep = "&"
	}
	return p.cfg.Endpoint + sep + params.Encode()
}

// ParseResults extracts organic results from a results page. Sponsored
// blocks are ignored.
func ParseResults(doc *goquery.Document, limit int) []archive.CandidateItem {
	var items []archive.CandidateItem
	doc.Find("div.result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(items) >= limit {
			return false
		}
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find("a.result__a").First()
		href, _ := link.Attr("href")
		item := archive.CandidateItem{
			Title:   collapseSpace(link.Text()),
			URL:     unwrapRedirect(href),
			Snippet: collapseSpace(s.Find(".result__snippet").First().Text()),
		}
		if item.Title == "" && item.URL == "" {
			return true
		}
		items = append(items, item)
		return true
	})
	return items
}

// unwrapRedirect turns a "/l/?uddg=<target>" tracking link into its target.
func unwrapRedirect(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
