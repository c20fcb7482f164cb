package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const (
	// SearchTool is the registered name of the web search tool.
	SearchTool = "search"

	DefaultSearchEndpoint   = "https://html.duckduckgo.com/html/"
	DefaultSearchMaxResults = 10
	maxSearchResults        = 30
)

// SearchResult represents a single search result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher queries the DuckDuckGo HTML interface, which needs no API key.
type Searcher struct {
	endpoint   string
	maxResults int
	client     *http.Client
	logger     *zap.Logger
}

// NewSearcher returns a searcher for endpoint. Zero values select the
// defaults.
func NewSearcher(endpoint string, maxResults int, client *http.Client, logger *zap.Logger) *Searcher {
	if endpoint == "" {
		endpoint = DefaultSearchEndpoint
	}
	if maxResults <= 0 {
		maxResults = DefaultSearchMaxResults
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{endpoint: endpoint, maxResults: maxResults, client: client, logger: logger}
}

// Execute searches for params["query"] and returns the results as a list of
// title/url/snippet maps.
func (s *Searcher) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	query := stringParam(params, "query")
	limit := s.maxResults
	if n := intParam(params, "max_results"); n > 0 {
		limit = n
	}
	limit = min(limit, maxSearchResults)

	results, err := s.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{"title": r.Title, "url": r.URL, "snippet": r.Snippet}
	}
	return out, nil
}

// Search performs the HTTP request and parses up to limit results.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	searchURL := s.endpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	results := parseResults(doc, limit)
	s.logger.Debug("Search completed", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

// parseResults walks result containers, which DuckDuckGo marks with the
// "result" and "results_links" classes.
func parseResults(doc *html.Node, limit int) []SearchResult {
	var results []SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attr(n, "class")
			if hasClass(class, "result") && strings.Contains(class, "results_links") {
				if r := extractResult(n); r.URL != "" && r.Title != "" {
					results = append(results, r)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func extractResult(n *html.Node) SearchResult {
	var result SearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			class := attr(n, "class")
			switch {
			case n.Data == "a" && hasClass(class, "result__a"):
				result.URL = attr(n, "href")
				result.Title = textContent(n)
			case hasClass(class, "result__snippet"):
				result.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	result.URL = unwrapRedirect(result.URL)
	return result
}

// unwrapRedirect returns the target of a DuckDuckGo /l/?uddg= redirect link.
func unwrapRedirect(link string) string {
	u, err := url.Parse(link)
	if err != nil || !strings.HasSuffix(u.Path, "/l/") {
		return link
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return link
}

func hasClass(class, name string) bool {
	for _, c := range strings.Fields(class) {
		if c == name {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			parts = append(parts, strings.Fields(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}
