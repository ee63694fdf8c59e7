package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"localrag/internal/models"
)

// ErrMissingAPIKey reports that search was requested without credentials.
// Callers check this precondition instead of attempting the request.
var ErrMissingAPIKey = errors.New("search API key is not set")

const defaultBaseURL = "https://api.tavily.com"

// Searcher returns ranked result snippets for a query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]models.Document, error)
}

// Tavily is a JSON-over-HTTP client for the Tavily search API.
type Tavily struct {
	apiKey     string
	baseURL    string
	maxResults int
	http       *http.Client
	logger     *zap.Logger
}

func NewTavily(apiKey string, maxResults int, logger *zap.Logger) *Tavily {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &Tavily{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		maxResults: maxResults,
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL points the client at a different endpoint. Used in tests.
func (t *Tavily) WithBaseURL(u string) *Tavily {
	t.baseURL = u
	return t
}

// Search queries the API and wraps each result into a Document with the
// result URL as its source.
func (t *Tavily) Search(ctx context.Context, query string) ([]models.Document, error) {
	if t.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	body := map[string]any{
		"api_key":     t.apiKey,
		"query":       query,
		"max_results": t.maxResults,
	}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("web search http %d: %s", resp.StatusCode, string(data))
	}
	var out struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode web search response: %w", err)
	}
	docs := make([]models.Document, 0, len(out.Results))
	for _, r := range out.Results {
		content := r.Content
		if r.Title != "" {
			content = r.Title + "\n" + content
		}
		docs = append(docs, models.Document{
			Content:  content,
			SourceID: r.URL,
			Metadata: map[string]string{"source": r.URL, "title": r.Title},
		})
	}
	t.logger.Debug("web search completed", zap.String("query", query), zap.Int("results", len(docs)))
	return docs, nil
}
