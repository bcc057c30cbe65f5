// Package websearch provides web search via the Tavily API and the
// heuristics for deciding when a query needs it.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/pkg/utils"
)

const defaultBaseURL = "https://api.tavily.com"

// excerptLen bounds how much of each result body goes into the prompt.
const excerptLen = 300

// Result is one web search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response is the outcome of a search: an optional direct answer plus hits.
type Response struct {
	Answer  string   `json:"answer"`
	Results []Result `json:"results"`
}

// Client calls the Tavily search API.
type Client struct {
	baseURL    string
	apiKey     string
	maxResults int
	httpClient *http.Client
	logger     *zap.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	MaxResults int
	Logger     *zap.Logger
}

// NewClient creates a Tavily client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		maxResults: opts.MaxResults,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     opts.Logger,
	}
}

// Search runs a basic-depth search and asks for a direct answer.
func (c *Client) Search(ctx context.Context, query string) (*Response, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query":          query,
		"search_depth":   "basic",
		"max_results":    c.maxResults,
		"include_answer": true,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("web search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode web search response: %w", err)
	}
	return &out, nil
}

// FormatContext renders a search response as a prompt context block.
// Returns "" when there is nothing usable.
func FormatContext(resp *Response) string {
	if resp == nil || len(resp.Results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("--- WEB SEARCH RESULTS ---\n")
	if resp.Answer != "" {
		fmt.Fprintf(&b, "Direct Answer: %s\n\n", resp.Answer)
	}
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "[Source %d]: %s\n", i+1, r.Title)
		fmt.Fprintf(&b, "URL: %s\n", r.URL)
		fmt.Fprintf(&b, "Content: %s\n\n", utils.Truncate(r.Content, excerptLen))
	}
	b.WriteString("--- END OF SEARCH RESULTS ---")
	return b.String()
}

var yearPattern = regexp.MustCompile(`\b20\d{2}\b`)

// Phrases that usually mean the answer depends on current information.
var freshnessMarkers = []string{
	"latest",
	"current",
	"news",
	"today",
	"tonight",
	"price",
	"weather",
	"forecast",
	"upcoming",
	"recent",
	"right now",
	"this week",
	"this month",
	"this year",
	"who is",
	"what is the",
	"when is",
}

// ShouldAutoSearch reports whether a query looks like it needs fresh
// information from the web. Used when the caller leaves the web search
// decision to the server.
func ShouldAutoSearch(query string) bool {
	q := strings.ToLower(query)
	for _, marker := range freshnessMarkers {
		if strings.Contains(q, marker) {
			return true
		}
	}
	return yearPattern.MatchString(q)
}
