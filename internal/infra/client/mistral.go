package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/boddenberg/budget-tracker-go/internal/domain"
	"github.com/boddenberg/budget-tracker-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

// MistralConfig selects the endpoints and model of the Mistral API.
type MistralConfig struct {
	APIKey     string
	ChatURL    string
	Model      string
	MaxTokens  int
	EmbedURL   string
	EmbedModel string
}

// MistralClient calls the Mistral chat-completions and embeddings endpoints.
type MistralClient struct {
	httpClient *http.Client
	mc         MistralConfig
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
}

// NewMistralClient creates a new MistralClient. The bulkhead caps concurrent
// calls at cfg.MaxConcurrency.
func NewMistralClient(httpClient *http.Client, mc MistralConfig, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *MistralClient {
	return &MistralClient{
		httpClient: httpClient,
		mc:         mc,
		cb:         cb,
		cfg:        cfg,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
	}
}

type completionResponse struct {
	Choices []struct {
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
	Usage domain.TokenUsage `json:"usage"`
}

func (c *MistralClient) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.mc.APIKey)
	return h
}

// Complete sends the conversation and returns the first choice.
func (c *MistralClient) Complete(ctx context.Context, messages []domain.ChatMessage) (*domain.Completion, error) {
	ctx, span := tracer.Start(ctx, "MistralClient.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.mc.Model), attribute.Int("llm.messages", len(messages)))

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, wrapError("mistral", err)
	}
	defer c.bulkhead.Release()

	req := domain.CompletionRequest{Model: c.mc.Model, MaxTokens: c.mc.MaxTokens, Messages: messages}

	result, err := c.cb.Execute(func() (any, error) {
		var resp completionResponse
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			resp = completionResponse{}
			return doJSON(ctx, c.httpClient, http.MethodPost, c.mc.ChatURL, c.header(), req, &resp)
		})
		if innerErr != nil {
			return nil, innerErr
		}
		if len(resp.Choices) == 0 {
			return nil, resilience.Permanent(errors.New("completion has no choices"))
		}
		return &domain.Completion{Content: resp.Choices[0].Message.Content, TokensUsed: resp.Usage}, nil
	})
	if err != nil {
		return nil, wrapError("mistral", err)
	}

	out := result.(*domain.Completion)
	span.SetAttributes(attribute.Int("llm.tokens.total", out.TokensUsed.TotalTokens))
	return out, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per text, in input order.
func (c *MistralClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, "MistralClient.Embed")
	defer span.End()
	span.SetAttributes(attribute.Int("embed.inputs", len(texts)))

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, wrapError("mistral", err)
	}
	defer c.bulkhead.Release()

	req := embeddingRequest{Model: c.mc.EmbedModel, Input: texts}

	result, err := c.cb.Execute(func() (any, error) {
		var resp embeddingResponse
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			resp = embeddingResponse{}
			return doJSON(ctx, c.httpClient, http.MethodPost, c.mc.EmbedURL, c.header(), req, &resp)
		})
		if innerErr != nil {
			return nil, innerErr
		}
		if len(resp.Data) != len(texts) {
			return nil, resilience.Permanent(errors.New("embedding count does not match input count"))
		}
		vectors := make([][]float32, len(texts))
		for i, d := range resp.Data {
			idx := d.Index
			if idx < 0 || idx >= len(vectors) {
				idx = i
			}
			vectors[idx] = d.Embedding
		}
		return vectors, nil
	})
	if err != nil {
		return nil, wrapError("mistral", err)
	}
	return result.([][]float32), nil
}
