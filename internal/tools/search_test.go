package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsPage = `<html><body>
<div class="result results_links results_links_deep web-result">
  <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&amp;rut=abc">The Go <b>Programming</b> Language</a></h2>
  <a class="result__snippet" href="#">Documentation for   Go.</a>
</div>
<div class="result results_links web-result">
  <h2><a class="result__a" href="https://pkg.go.dev/">Go Packages</a></h2>
  <div class="result__snippet">Find packages.</div>
</div>
<div class="result results_links web-result">
  <h2><a class="result__a" href="">No link</a></h2>
</div>
<div class="result results_links web-result">
  <h2><a class="result__a" href="https://third.example/">Third</a></h2>
</div>
</body></html>`

func newSearchServer(t *testing.T, status int) (*httptest.Server, <-chan string) {
	t.Helper()
	queries := make(chan string, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query().Get("q")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resultsPage))
	}))
	t.Cleanup(srv.Close)
	return srv, queries
}

func TestSearcher_ParsesResults(t *testing.T) {
	srv, queries := newSearchServer(t, http.StatusOK)
	s := NewSearcher(srv.URL, 0, srv.Client(), nil)

	results, err := s.Search(context.Background(), "go language", 10)
	require.NoError(t, err)

	assert.Equal(t, "go language", <-queries)
	assert.Equal(t, []SearchResult{
		{Title: "The Go Programming Language", URL: "https://go.dev/doc/", Snippet: "Documentation for Go."},
		{Title: "Go Packages", URL: "https://pkg.go.dev/", Snippet: "Find packages."},
		{Title: "Third", URL: "https://third.example/"},
	}, results)
}

func TestSearcher_ExecuteLimitsResults(t *testing.T) {
	srv, _ := newSearchServer(t, http.StatusOK)
	s := NewSearcher(srv.URL, 0, srv.Client(), nil)

	out, err := s.Execute(context.Background(), "query", map[string]any{"query": "go", "max_results": 1})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{
		"title":   "The Go Programming Language",
		"url":     "https://go.dev/doc/",
		"snippet": "Documentation for Go.",
	}}, out)
}

func TestSearcher_HTTPError(t *testing.T) {
	srv, _ := newSearchServer(t, http.StatusServiceUnavailable)
	_, err := NewSearcher(srv.URL, 0, srv.Client(), nil).Execute(context.Background(), "query", map[string]any{"query": "go"})
	assert.ErrorContains(t, err, "HTTP 503")
}
