// Package gemini wraps the hosted Gemini API for embeddings and
// answer generation.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

// Client holds a Gemini API connection plus the model names and
// timeout applied to every call. Constructed once at process start and
// shared; the underlying client is safe for concurrent use.
type Client struct {
	genai      *genai.Client
	model      string
	embedModel string
	timeout    time.Duration
}

// New creates a Client for the given API key and models. A timeout of
// zero disables per-call deadlines.
func New(ctx context.Context, apiKey, model, embedModel string, timeout time.Duration) (*Client, error) {
	gc, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return &Client{
		genai:      gc,
		model:      model,
		embedModel: embedModel,
		timeout:    timeout,
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.genai.Close()
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	em := c.genai.EmbeddingModel(c.embedModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received")
	}
	return res.Embedding.Values, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to stay under provider rate limits.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := c.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Generate sends the prompt to the generation model and returns the
// answer text plus the raw provider response, marshalled to JSON for
// auditability.
func (c *Client) Generate(ctx context.Context, prompt string) (string, json.RawMessage, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	model := c.genai.GenerativeModel(c.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", nil, fmt.Errorf("gemini generate request failed: %w", err)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return "", nil, fmt.Errorf("marshalling gemini response: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", raw, fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if sb.Len() == 0 {
		return "", raw, fmt.Errorf("gemini returned a non-text response")
	}

	return strings.TrimSpace(sb.String()), raw, nil
}
