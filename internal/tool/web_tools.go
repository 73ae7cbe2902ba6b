package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebSearchTool queries the Brave Search API, the only search backend
// the runtime's upstream agent loop wires in (it takes a
// brave_api_key in its constructor).
type WebSearchTool struct {
	APIKey     string
	httpClient *http.Client
}

func (t *WebSearchTool) client() *http.Client {
	if t.httpClient == nil {
		t.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return t.httpClient
}

func (t *WebSearchTool) Name() string        { return "web_search" }
func (t *WebSearchTool) Description() string { return "Search the web via Brave Search and return the top results." }
func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []string{"query"},
	}
}

type braveSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return &Result{ForLLM: "Error: query is required", IsError: true}
	}
	if t.APIKey == "" {
		return &Result{ForLLM: "Error: web search is not configured (missing BRAVE_API_KEY)", IsError: true}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.search.brave.com/res/v1/web/search", nil)
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: %v", err), IsError: true}
	}
	q := req.URL.Query()
	q.Set("q", query)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("X-Subscription-Token", t.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client().Do(req)
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: web search request failed: %v", err), IsError: true}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &Result{ForLLM: fmt.Sprintf("Error: web search returned status %d", resp.StatusCode), IsError: true}
	}

	var parsed braveSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: parsing search response: %v", err), IsError: true}
	}

	var sb strings.Builder
	for i, r := range parsed.Web.Results {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&sb, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Description)
	}
	if sb.Len() == 0 {
		return &Result{ForLLM: "No results found."}
	}
	return &Result{ForLLM: sb.String()}
}

// WebFetchTool fetches a URL and returns its body, truncated to a
// reasonable size for LM context.
type WebFetchTool struct {
	httpClient *http.Client
}

func (t *WebFetchTool) client() *http.Client {
	if t.httpClient == nil {
		t.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return t.httpClient
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch the contents of a URL." }
func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"url": map[string]any{"type": "string"}},
		"required":   []string{"url"},
	}
}

const webFetchMaxBytes = 50_000

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) *Result {
	url, _ := args["url"].(string)
	if url == "" {
		return &Result{ForLLM: "Error: url is required", IsError: true}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: %v", err), IsError: true}
	}
	resp, err := t.client().Do(req)
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: fetching %s: %v", url, err), IsError: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBytes))
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: reading response from %s: %v", url, err), IsError: true}
	}
	if resp.StatusCode != http.StatusOK {
		return &Result{ForLLM: fmt.Sprintf("Error: %s returned status %d", url, resp.StatusCode), IsError: true}
	}
	return &Result{ForLLM: string(body)}
}
