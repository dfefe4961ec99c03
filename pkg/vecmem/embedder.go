package vecmem

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Embedder defines the interface for text-to-vector embedding.
// Implement it to plug any embedding model into the text helpers.
type Embedder interface {
	// Embed converts a single text string into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts into vectors in a single call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dim returns the dimension of vectors produced by this embedder, or 0
	// when it is not fixed. Vectors of any other length are rejected.
	Dim() int
}

// Errors related to embedder operations
var (
	// ErrEmbedderNotConfigured is returned when text operations are called
	// but no embedder was configured.
	ErrEmbedderNotConfigured = errors.New("vecmem: embedder not configured, use WithEmbedder or pass vectors directly")

	// ErrEmptyText is returned when an empty text string is provided.
	ErrEmptyText = errors.New("vecmem: empty text provided")

	// ErrEmbeddingFailed is returned when the embedder fails to produce a vector.
	ErrEmbeddingFailed = errors.New("vecmem: embedding failed")
)

// EmbedFunc embeds a single text
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// FuncEmbedder turns an EmbedFunc into an Embedder. EmbedBatch fans out over
// at most Concurrency goroutines.
type FuncEmbedder struct {
	fn          EmbedFunc
	dim         int
	Concurrency int
}

// NewFuncEmbedder creates an embedder around fn producing dim-sized vectors
func NewFuncEmbedder(dim int, fn EmbedFunc) *FuncEmbedder {
	return &FuncEmbedder{fn: fn, dim: dim, Concurrency: 4}
}

// Embed calls the underlying embed function for a single text.
func (f *FuncEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.fn(ctx, text)
}

// EmbedBatch embeds texts concurrently. The first failure cancels the rest.
func (f *FuncEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	if f.Concurrency > 0 {
		g.SetLimit(f.Concurrency)
	}
	for i, text := range texts {
		g.Go(func() error {
			vec, err := f.fn(gctx, text)
			if err != nil {
				return err
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

// Dim returns the dimension of vectors.
func (f *FuncEmbedder) Dim() int {
	return f.dim
}
