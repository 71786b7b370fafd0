package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/infra/resilience"
	"github.com/boddenberg/budget-tracker-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

// ChromaClient talks to the Chroma REST API. Chroma stores and searches
// vectors; texts are embedded through the Embedder first.
type ChromaClient struct {
	httpClient *http.Client
	baseURL    string
	embedder   port.Embedder
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config

	mu          sync.Mutex
	collections map[string]string // name -> id
}

// NewChromaClient creates a new ChromaClient.
func NewChromaClient(httpClient *http.Client, baseURL string, embedder port.Embedder, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *ChromaClient {
	return &ChromaClient{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		embedder:    embedder,
		cb:          cb,
		cfg:         cfg,
		collections: make(map[string]string),
	}
}

func (c *ChromaClient) call(ctx context.Context, method, path string, in, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			return doJSON(ctx, c.httpClient, method, c.baseURL+path, nil, in, out)
		})
	})
	if err != nil {
		return wrapError("chroma", err)
	}
	return nil
}

// Ping checks the heartbeat endpoint.
func (c *ChromaClient) Ping(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/api/v1/heartbeat", nil, nil)
}

// collectionID resolves a collection name, creating it on first use.
func (c *ChromaClient) collectionID(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	id, ok := c.collections[name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var resp struct {
		ID string `json:"id"`
	}
	body := map[string]any{"name": name, "get_or_create": true}
	if err := c.call(ctx, http.MethodPost, "/api/v1/collections", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &domain.ErrExternalService{Service: "chroma", Err: fmt.Errorf("collection %q has no id", name)}
	}

	c.mu.Lock()
	c.collections[name] = resp.ID
	c.mu.Unlock()
	return resp.ID, nil
}

type chromaQueryRequest struct {
	QueryEmbeddings [][]float32    `json:"query_embeddings"`
	NResults        int            `json:"n_results"`
	Where           map[string]any `json:"where,omitempty"`
	Include         []string       `json:"include"`
}

type chromaQueryResponse struct {
	Documents [][]*string `json:"documents"`
}

// Query returns the texts of the k nearest documents.
func (c *ChromaClient) Query(ctx context.Context, q domain.VectorQuery) ([]string, error) {
	ctx, span := tracer.Start(ctx, "ChromaClient.Query")
	defer span.End()
	span.SetAttributes(attribute.String("chroma.collection", q.Collection), attribute.Int("chroma.k", q.K))

	id, err := c.collectionID(ctx, q.Collection)
	if err != nil {
		return nil, err
	}

	vectors, err := c.embedder.Embed(ctx, []string{q.Text})
	if err != nil {
		return nil, err
	}

	req := chromaQueryRequest{
		QueryEmbeddings: vectors,
		NResults:        q.K,
		Where:           q.Where,
		Include:         []string{"documents"},
	}
	var resp chromaQueryResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/collections/"+url.PathEscape(id)+"/query", req, &resp); err != nil {
		return nil, err
	}

	docs := make([]string, 0, q.K)
	for _, group := range resp.Documents {
		for _, d := range group {
			if d != nil && *d != "" {
				docs = append(docs, *d)
			}
		}
	}
	return docs, nil
}

type chromaUpsertRequest struct {
	IDs        []string         `json:"ids"`
	Documents  []string         `json:"documents"`
	Embeddings [][]float32      `json:"embeddings"`
	Metadatas  []map[string]any `json:"metadatas,omitempty"`
}

// Upsert embeds and stores the documents, replacing any with the same id.
func (c *ChromaClient) Upsert(ctx context.Context, collection string, docs []domain.VectorDocument) error {
	ctx, span := tracer.Start(ctx, "ChromaClient.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("chroma.collection", collection), attribute.Int("chroma.documents", len(docs)))

	if len(docs) == 0 {
		return nil
	}

	id, err := c.collectionID(ctx, collection)
	if err != nil {
		return err
	}

	req := chromaUpsertRequest{
		IDs:       make([]string, len(docs)),
		Documents: make([]string, len(docs)),
	}
	hasMetadata := false
	for i, d := range docs {
		req.IDs[i] = d.ID
		req.Documents[i] = d.Text
		if len(d.Metadata) > 0 {
			hasMetadata = true
		}
	}
	if hasMetadata {
		req.Metadatas = make([]map[string]any, len(docs))
		for i, d := range docs {
			req.Metadatas[i] = d.Metadata
		}
	}

	req.Embeddings, err = c.embedder.Embed(ctx, req.Documents)
	if err != nil {
		return err
	}

	return c.call(ctx, http.MethodPost, "/api/v1/collections/"+url.PathEscape(id)+"/upsert", req, nil)
}

// Delete removes documents by id. Unknown ids are ignored by Chroma.
func (c *ChromaClient) Delete(ctx context.Context, collection string, ids []string) error {
	ctx, span := tracer.Start(ctx, "ChromaClient.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("chroma.collection", collection), attribute.Int("chroma.documents", len(ids)))

	if len(ids) == 0 {
		return nil
	}

	id, err := c.collectionID(ctx, collection)
	if err != nil {
		return err
	}
	return c.call(ctx, http.MethodPost, "/api/v1/collections/"+url.PathEscape(id)+"/delete", map[string]any{"ids": ids}, nil)
}
