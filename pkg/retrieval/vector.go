package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SearchHit is one candidate returned by the vector store.
type SearchHit struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

// VectorStore performs similarity search over indexed schema facts. The index
// itself (building, persistence) is an external concern.
type VectorStore interface {
	Search(ctx context.Context, vector []float32, topK int, kinds []ElementKind) ([]SearchHit, error)
}

// HTTPVectorStore calls an external vector-search service.
type HTTPVectorStore struct {
	baseURL    string
	collection string
	client     *http.Client
}

// NewHTTPVectorStore creates a client for the search service at baseURL.
func NewHTTPVectorStore(baseURL, collection string, timeout time.Duration) *HTTPVectorStore {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPVectorStore{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Collection string   `json:"collection"`
	Vector     []float32 `json:"vector"`
	TopK       int      `json:"top_k"`
	Kinds      []string `json:"kinds,omitempty"`
}

// Search runs a top-K similarity query, optionally filtered by element kind.
func (s *HTTPVectorStore) Search(ctx context.Context, vector []float32, topK int, kinds []ElementKind) ([]SearchHit, error) {
	reqBody := searchRequest{
		Collection: s.collection,
		Vector:     vector,
		TopK:       topK,
	}
	for _, k := range kinds {
		reqBody.Kinds = append(reqBody.Kinds, string(k))
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vector store unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 300 {
			msg = msg[:300] + "..."
		}
		return nil, fmt.Errorf("vector store returned %d: %s", resp.StatusCode, msg)
	}

	var parsed struct {
		Results []SearchHit `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return parsed.Results, nil
}
