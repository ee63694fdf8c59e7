package ollama

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"localrag/internal/llm"
)

// ErrServerUnreachable reports that the Ollama endpoint could not be
// contacted at all. It is fatal for a pipeline run but not for the process.
var ErrServerUnreachable = errors.New("ollama server unreachable")

// ModelError is a non-success response from the model server.
type ModelError struct {
	Status int
	Body   string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("ollama http %d: %s", e.Status, e.Body)
}

const embedCacheSize = 512

// Client talks to a local Ollama server. It implements llm.Generator,
// llm.Embedder and llm.ModelLister. The only state it keeps besides the
// configured model names is an LRU cache of embeddings.
type Client struct {
	baseURL    string
	chatModel  string
	embedModel string
	http       *http.Client
	cache      *lru.Cache[string, []float32]
	logger     *zap.Logger
}

func New(baseURL, chatModel, embedModel string, logger *zap.Logger) *Client {
	cache, _ := lru.New[string, []float32](embedCacheSize)
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		chatModel:  chatModel,
		embedModel: embedModel,
		http:       &http.Client{Timeout: 120 * time.Second},
		cache:      cache,
		logger:     logger,
	}
}

// GenerateText calls the generative model in plain-text mode.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, prompt)
}

// GenerateJSON calls the model and extracts a JSON object from the output.
// A response that contains no recoverable object yields a Malformed result,
// never an error.
func (c *Client) GenerateJSON(ctx context.Context, prompt string) (llm.JSON, error) {
	raw, err := c.generate(ctx, prompt)
	if err != nil {
		return llm.JSON{}, err
	}
	obj, ok := llm.ExtractJSON(raw)
	if !ok {
		c.logger.Warn("invalid JSON response from model", zap.String("raw", truncate(raw, 200)))
		return llm.JSON{Raw: raw, Malformed: true}, nil
	}
	return llm.JSON{Object: obj, Raw: raw}, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body := map[string]any{"model": c.chatModel, "prompt": prompt, "stream": false}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req, b)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return "", &ModelError{Status: resp.StatusCode, Body: truncate(string(data), 500)}
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return out.Response, nil
}

// Embeddings embeds texts with the configured embedding model. The result
// matches the input in length and order. Any single failure fails the call:
// callers building an index must not proceed with partial coverage.
func (c *Client) Embeddings(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		key := cacheKey(c.embedModel, text)
		if v, ok := c.cache.Get(key); ok {
			vecs[i] = v
			continue
		}
		v, err := c.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, v)
		vecs[i] = v
	}
	return vecs, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.Embeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{"model": c.embedModel, "prompt": text}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req, b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return nil, &ModelError{Status: resp.StatusCode, Body: truncate(string(data), 500)}
	}
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("unexpected embeddings response: no embedding field")
	}
	return out.Embedding, nil
}

// CheckReachable probes the server without ever returning an error.
func (c *Client) CheckReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode/100 == 2
}

// CheckModelAvailable cross-references the live model list against name.
func (c *Client) CheckModelAvailable(ctx context.Context, name string) bool {
	for _, m := range c.listTags(ctx) {
		if m == name {
			return true
		}
	}
	return false
}

// ListModels partitions available models by a naming heuristic: names
// containing "embed" or "bge" are embedding models, everything else is
// generative. Returns an empty slice on any failure.
func (c *Client) ListModels(ctx context.Context, filter llm.ModelFilter) []string {
	names := c.listTags(ctx)
	out := make([]string, 0, len(names))
	for _, name := range names {
		if isEmbeddingModel(name) == (filter == llm.FilterEmbedding) {
			out = append(out, name)
		}
	}
	return out
}

func (c *Client) listTags(ctx context.Context) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("failed to list ollama models", zap.Error(err))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		c.logger.Warn("failed to list ollama models", zap.Int("status", resp.StatusCode))
		return nil
	}
	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Warn("unexpected response from ollama tags endpoint", zap.Error(err))
		return nil
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names
}

func isEmbeddingModel(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "embed") || strings.Contains(n, "bge")
}

// do performs the request, retrying once on 429 since a busy local server
// recovers quickly. The body is re-attached for the retry.
func (c *Client) do(req *http.Request, body []byte) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		return resp, nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	time.Sleep(200 * time.Millisecond)
	retry := req.Clone(req.Context())
	if body != nil {
		retry.Body = io.NopCloser(bytes.NewReader(body))
	}
	return c.http.Do(retry)
}

func cacheKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "|" + text))
	return hex.EncodeToString(h[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
