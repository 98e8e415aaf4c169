// Copyright 2025 James Ross
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/regulens/ingestion-engine/internal/ingesterr"
	"github.com/regulens/ingestion-engine/internal/model"
)

// RobotsPolicy caches a host's robots.txt disallow rules and a per-host
// crawl-delay limiter so the Web adapter never needs to refetch robots.txt
// per page. A Crawl-delay line in robots.txt is not read; the limiter's
// interval is the delay the caller passes to Wait.
type RobotsPolicy struct {
	mu        sync.Mutex
	client    *http.Client
	disallow  map[string][]string
	crawlWait map[string]*rate.Limiter
}

// NewRobotsPolicy builds an empty policy cache.
func NewRobotsPolicy(client *http.Client) *RobotsPolicy {
	return &RobotsPolicy{
		client:    client,
		disallow:  make(map[string][]string),
		crawlWait: make(map[string]*rate.Limiter),
	}
}

// Allowed reports whether rawURL may be fetched under the host's
// robots.txt, fetching and caching the policy on first use.
func (p *RobotsPolicy) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}
	host := u.Scheme + "://" + u.Host

	p.mu.Lock()
	rules, known := p.disallow[host]
	p.mu.Unlock()
	if !known {
		rules = p.fetchRobots(ctx, host)
		p.mu.Lock()
		p.disallow[host] = rules
		p.mu.Unlock()
	}

	for _, rule := range rules {
		if rule != "" && strings.HasPrefix(u.Path, rule) {
			return false, nil
		}
	}
	return true, nil
}

// Wait blocks until the per-host crawl delay allows another fetch.
func (p *RobotsPolicy) Wait(ctx context.Context, rawURL string, defaultDelay time.Duration) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := u.Scheme + "://" + u.Host

	p.mu.Lock()
	limiter, ok := p.crawlWait[host]
	if !ok {
		interval := defaultDelay
		if interval <= 0 {
			interval = time.Second
		}
		limiter = rate.NewLimiter(rate.Every(interval), 1)
		p.crawlWait[host] = limiter
	}
	p.mu.Unlock()

	return limiter.Wait(ctx)
}

func (p *RobotsPolicy) fetchRobots(ctx context.Context, host string) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var rules []string
	applies := false
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "user-agent:"):
			agent := strings.TrimSpace(line[len("user-agent:"):])
			applies = agent == "*"
		case applies && strings.HasPrefix(lower, "disallow:"):
			rules = append(rules, strings.TrimSpace(line[len("disallow:"):]))
		}
	}
	return rules
}

// WebAdapter fetches HTML pages and extracts records via CSS-like tag
// selectors configured per field.
type WebAdapter struct {
	client  *http.Client
	robots  *RobotsPolicy
	limiter *rate.Limiter
}

// NewWebAdapter builds a Web adapter honoring robots.txt and a per-host
// crawl delay in addition to any configured rate limit.
func NewWebAdapter(cfg model.SourceConfig) *WebAdapter {
	client := &http.Client{Timeout: 30 * time.Second}
	var limiter *rate.Limiter
	if cfg.RateLimit.Capacity > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RefillPerSec), cfg.RateLimit.Capacity)
	}
	return &WebAdapter{
		client:  client,
		robots:  NewRobotsPolicy(client),
		limiter: limiter,
	}
}

// Fetch retrieves cfg.Endpoint and extracts a single record whose fields
// hold the text of the first element matching each configured selector. The watermark is unused for Web sources (each
// fetch re-scrapes the current page); the fetch timestamp is returned so
// callers can still track last-seen time.
func (a *WebAdapter) Fetch(ctx context.Context, cfg model.SourceConfig, watermark string) ([]model.RawRecord, string, error) {
	allowed, err := a.robots.Allowed(ctx, cfg.Endpoint)
	if err != nil {
		return nil, watermark, &ingesterr.TransientTransport{Op: "web_robots", Err: err}
	}
	if !allowed {
		return nil, watermark, &ingesterr.PermanentTransport{Op: "web_robots", Err: fmt.Errorf("disallowed by robots.txt")}
	}
	if err := a.robots.Wait(ctx, cfg.Endpoint, time.Second); err != nil {
		return nil, watermark, &ingesterr.TransientTransport{Op: "web_crawl_delay", Err: err}
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, watermark, &ingesterr.TransientTransport{Op: "web_rate_limit", Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint, nil)
	if err != nil {
		return nil, watermark, &ingesterr.PermanentTransport{Op: "web_fetch", Err: err}
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, watermark, &ingesterr.TransientTransport{Op: "web_fetch", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, watermark, &ingesterr.TransientTransport{Op: "web_fetch", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, watermark, &ingesterr.PermanentTransport{Op: "web_fetch", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, watermark, &ingesterr.ParseError{Op: "web_parse", Err: err}
	}

	fields := extractFields(doc, cfg.Extract.Selectors)
	now := time.Now()
	record := model.RawRecord{SourceID: cfg.SourceID, FetchedAt: now, Content: fields}
	return []model.RawRecord{record}, now.Format(time.RFC3339Nano), nil
}

// Close releases adapter resources; the Web adapter holds none beyond its
// pooled http.Client.
func (a *WebAdapter) Close() error { return nil }

// extractFields walks doc looking for the first element matching each
// selector's tag name and (optional) id/class hint and collects its text
// content, keyed by field name.
func extractFields(doc *html.Node, selectors map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(selectors))
	for field, selector := range selectors {
		if node := findBySelector(doc, selector); node != nil {
			out[field] = textContent(node)
		}
	}
	return out
}

// findBySelector does a depth-first walk for the first element whose tag
// matches selector, or whose id/class attribute equals a "#id"/".class"
// selector.
func findBySelector(n *html.Node, selector string) *html.Node {
	if matchesSelector(n, selector) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findBySelector(c, selector); found != nil {
			return found
		}
	}
	return nil
}

func matchesSelector(n *html.Node, selector string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch {
	case strings.HasPrefix(selector, "#"):
		return attrEquals(n, "id", selector[1:])
	case strings.HasPrefix(selector, "."):
		return attrContains(n, "class", selector[1:])
	default:
		return n.Data == selector
	}
}

func attrEquals(n *html.Node, key, want string) bool {
	for _, a := range n.Attr {
		if a.Key == key && a.Val == want {
			return true
		}
	}
	return false
}

func attrContains(n *html.Node, key, want string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			for _, cls := range strings.Fields(a.Val) {
				if cls == want {
					return true
				}
			}
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
