package research

import (
	"context"
	"strings"
	"time"

	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/internal/httpclient"
)

// Searcher is a web search provider
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Source, error)
}

// HTTPSearcher talks to a Tavily-style JSON search API (POST {base}/search)
type HTTPSearcher struct {
	baseURL string
	apiKey  string
	client  *httpclient.SaferClient
}

// NewHTTPSearcher creates a searcher with SSRF protection and the given timeout
func NewHTTPSearcher(baseURL, apiKey string, timeout time.Duration) *HTTPSearcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPSearcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  httpclient.NewSaferClient(timeout),
	}
}

// WithClient replaces the HTTP client (tests against httptest servers)
func (s *HTTPSearcher) WithClient(client *httpclient.SaferClient) *HTTPSearcher {
	s.client = client
	return s
}

type searchRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type searchResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"published_date"`
	} `json:"results"`
}

// Search implements Searcher
func (s *HTTPSearcher) Search(ctx context.Context, query string, maxResults int) ([]Source, error) {
	if s.baseURL == "" {
		return nil, errors.Wrap(errors.ErrServiceUnavailable, "research base_url not configured")
	}

	headers := map[string]string{}
	if s.apiKey != "" {
		headers["Authorization"] = "Bearer " + s.apiKey
	}

	var resp searchResponse
	err := s.client.PostJSON(ctx, s.baseURL+"/search", headers, searchRequest{
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: "basic",
	}, &resp)
	if err != nil {
		return nil, errors.Wrap(err, "search request failed")
	}

	sources := make([]Source, 0, len(resp.Results))
	for _, r := range resp.Results {
		domain := DomainOf(r.URL)
		src := Source{
			Title:       r.Title,
			URL:         r.URL,
			Domain:      domain,
			Snippet:     r.Content,
			Credibility: Credibility(domain),
		}
		if r.PublishedDate != "" {
			for _, layout := range []string{time.RFC3339, "2006-01-02"} {
				if t, err := time.Parse(layout, r.PublishedDate); err == nil {
					t = t.UTC()
					src.PublishedAt = &t
					break
				}
			}
		}
		sources = append(sources, src)
	}
	return sources, nil
}
