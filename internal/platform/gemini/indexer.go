// Package gemini implements the SemanticIndexer collaborator over Google's
// Gemini embedding API. The indexer is a black box to the pipeline: it
// chunks an item's text, embeds every chunk, and reports a structured
// result instead of returning errors, so a fan-in barrier always closes.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/mjarrett/feedforge/internal/pipeline"
	"github.com/mjarrett/feedforge/internal/redact"
)

// ErrInvalidConfig is returned when the indexer configuration is incomplete.
var ErrInvalidConfig = errors.New("invalid indexer configuration")

// defaultModel is used when the configuration names no embedding model.
const defaultModel = "gemini-embedding-001"

// chunkSize bounds the rune length of one embedded chunk. Chunks split on
// paragraph boundaries where possible.
const chunkSize = 2000

// embedder is the narrow surface of the Gemini client the indexer uses,
// extracted so tests can substitute a mock without network access.
type embedder interface {
	// EmbedChunks embeds the given text chunks and returns how many
	// embeddings were produced.
	EmbedChunks(ctx context.Context, chunks []string) (int, error)
}

// Indexer implements pipeline.SemanticIndexer using Gemini embeddings.
type Indexer struct {
	logger *slog.Logger
	client embedder

	maxRetries int
	retryDelay time.Duration

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Config holds the settings for a Gemini-backed indexer.
type Config struct {
	APIKey string
	Model  string
}

// NewIndexer creates an Indexer talking to the Gemini API.
// If logger is nil, a default logger will be used.
func NewIndexer(ctx context.Context, cfg Config, logger *slog.Logger) (*Indexer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newIndexer(&genaiEmbedder{client: client, model: cfg.Model}, logger), nil
}

func newIndexer(client embedder, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		logger:     logger.With(slog.String("component", "semantic_indexer")),
		client:     client,
		maxRetries: 3,
		retryDelay: 2 * time.Second,
		sleep:      sleepCtx,
	}
}

// Ensure Indexer implements pipeline.SemanticIndexer interface
var _ pipeline.SemanticIndexer = (*Indexer)(nil)

// Index embeds the item's text chunk by chunk. Failures are reported in
// the result, never as an error: transient API failures are retried with
// exponential backoff first.
func (x *Indexer) Index(ctx context.Context, id uuid.UUID, text string) pipeline.IndexResult {
	chunks := splitChunks(text, chunkSize)
	if len(chunks) == 0 {
		return pipeline.IndexResult{OK: false, Err: "no text content to index"}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 0; attempt <= x.maxRetries; attempt++ {
		count, err := x.client.EmbedChunks(ctx, chunks)
		if err == nil {
			x.logger.Debug("item indexed",
				slog.String("entity_id", id.String()),
				slog.Int("chunks", count))
			return pipeline.IndexResult{ChunkCount: count, OK: true}
		}
		lastErr = err

		x.logger.Warn("embedding call failed",
			slog.String("entity_id", id.String()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))

		if attempt >= x.maxRetries || ctx.Err() != nil {
			break
		}

		// Exponential backoff with jitter between 0.5x and 1x.
		backoff := float64(x.retryDelay) * math.Pow(2, float64(attempt))
		jitter := 0.5 + rng.Float64()*0.5
		if err := x.sleep(ctx, time.Duration(backoff*jitter)); err != nil {
			lastErr = err
			break
		}
	}

	return pipeline.IndexResult{
		OK:  false,
		Err: redact.Truncate(lastErr.Error(), redact.MaxErrorLength),
	}
}

// genaiEmbedder adapts the genai client to the embedder interface.
type genaiEmbedder struct {
	client *genai.Client
	model  string
}

func (e *genaiEmbedder) EmbedChunks(ctx context.Context, chunks []string) (int, error) {
	contents := make([]*genai.Content, 0, len(chunks))
	for _, chunk := range chunks {
		contents = append(contents, genai.NewContentFromText(chunk, genai.RoleUser))
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("gemini embed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 {
		return 0, errors.New("gemini embed: empty response")
	}
	return len(resp.Embeddings), nil
}

// splitChunks breaks text into chunks of at most maxRunes, preferring
// paragraph boundaries. Blank-only input produces no chunks.
func splitChunks(text string, maxRunes int) []string {
	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		current.Reset()
		currentLen = 0
	}

	for _, paragraph := range strings.Split(text, "\n\n") {
		runes := []rune(paragraph)

		// Oversized paragraphs are split mid-text.
		for len(runes) > maxRunes {
			flush()
			chunks = append(chunks, strings.TrimSpace(string(runes[:maxRunes])))
			runes = runes[maxRunes:]
		}

		if currentLen > 0 && currentLen+len(runes) > maxRunes {
			flush()
		}
		if len(runes) > 0 {
			if currentLen > 0 {
				current.WriteString("\n\n")
				currentLen += 2
			}
			current.WriteString(string(runes))
			currentLen += len(runes)
		}
	}
	flush()

	return chunks
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
