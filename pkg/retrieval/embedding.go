package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Embedder turns text into a fixed-dimensionality vector. Implementations
// call an external service and must honor the context deadline.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPEmbedder calls an Ollama-compatible embeddings endpoint.
type HTTPEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTPEmbedder creates an embedder against baseURL (for example
// http://localhost:11434) using the given model.
func NewHTTPEmbedder(baseURL, model string, timeout time.Duration) *HTTPEmbedder {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPEmbedder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Embed requests an embedding vector for the text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{
		"model":  e.model,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 300 {
			msg = msg[:300] + "..."
		}
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, msg)
	}

	var parsed struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embed response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	return parsed.Embedding, nil
}

// CachedEmbedder memoizes embeddings by normalized text so repeated or
// near-identical queries skip the external call.
type CachedEmbedder struct {
	inner Embedder

	cache   *ttlcache.Cache[string, []float32]
	cacheMu sync.RWMutex
	ttl     time.Duration
}

// NewCachedEmbedder wraps inner with a TTL cache.
func NewCachedEmbedder(inner Embedder, ttl time.Duration) *CachedEmbedder {
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	return &CachedEmbedder{
		inner: inner,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, []float32](ttl),
		),
		ttl: ttl,
	}
}

// Embed returns the cached vector for the normalized text, calling the inner
// embedder on a miss.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := NormalizeText(text)

	e.cacheMu.RLock()
	item := e.cache.Get(key)
	e.cacheMu.RUnlock()
	if item != nil {
		return item.Value(), nil
	}

	vector, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	e.cache.Set(key, vector, e.ttl)
	e.cacheMu.Unlock()
	return vector, nil
}

// NormalizeText lowercases and collapses whitespace. It is the shared
// normalization for embedding cache keys and response fingerprints.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
