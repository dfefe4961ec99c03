// Package vecmem provides a local vector memory store for Go AI projects.
//
// It wraps core.Store with the four boundary operations an application
// layer needs (Initialize, Save, Query, CheckExisting) plus Clear, Count and
// optional text helpers that go through an Embedder.
package vecmem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/liliang-cn/vecmem/pkg/core"
)

// VectorInput is one record submitted to Save
type VectorInput struct {
	ID       string         `json:"id"`
	Values   []float64      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SaveResponse reports the outcome of Save
type SaveResponse struct {
	Success bool     `json:"success"`
	Saved   int      `json:"saved"`
	Failed  []string `json:"failed,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// QueryRequest describes a similarity search
type QueryRequest struct {
	Embedding []float64      `json:"embedding"`
	TopK      int            `json:"topK,omitempty"`
	Keywords  []string       `json:"keywords,omitempty"`
	Filters   map[string]any `json:"filters,omitempty"`
	Threshold *float64       `json:"threshold,omitempty"`
}

// QueryResponse holds the matches of a similarity search
type QueryResponse struct {
	Matches []core.Match `json:"matches"`
}

// Memory is the application-facing vector store
type Memory struct {
	mu       sync.Mutex
	config   core.Config
	embedder Embedder
	store    *core.Store
}

// Option is a functional option for configuring Memory.
type Option func(*Memory)

// WithConfig sets the base store configuration. Its Path is overridden by
// the path passed to Initialize.
func WithConfig(config core.Config) Option {
	return func(m *Memory) {
		m.config = config
	}
}

// WithLogger sets the logger used by the store
func WithLogger(logger core.Logger) Option {
	return func(m *Memory) {
		m.config.Logger = logger
	}
}

// WithRegisterer registers the store metrics with reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Memory) {
		m.config.Registerer = reg
	}
}

// WithEmbedder enables SaveText and QueryText.
func WithEmbedder(e Embedder) Option {
	return func(m *Memory) {
		m.embedder = e
	}
}

// New creates an uninitialized Memory. Call Initialize before use.
func New(opts ...Option) *Memory {
	m := &Memory{config: core.DefaultConfig()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultPath returns the store location under the user's config directory
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, "vecmem", "vectors.db"), nil
}

// Initialize opens or creates the store at path, or at DefaultPath when path
// is empty. Calling it again with the same or an empty path is a no-op;
// a different path closes the current store and opens the new one.
func (m *Memory) Initialize(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store != nil && m.store.IsOpen() && (path == "" || path == m.store.Config().Path) {
		return nil
	}

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
		}
		path = p
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return err
		}
		m.store = nil
	}

	config := m.config
	config.Path = path
	store, err := core.New(config)
	if err != nil {
		return err
	}
	if err := store.Open(ctx); err != nil {
		return err
	}
	m.store = store
	return nil
}

// Store returns the underlying store, or nil before Initialize
func (m *Memory) Store() *core.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store
}

func (m *Memory) current() (*core.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return nil, fmt.Errorf("vecmem: not initialized: %w", core.ErrStoreUnavailable)
	}
	return m.store, nil
}

// Save upserts vectors. Per-record failures are reported in the response;
// the error is non-nil only when the store is unavailable.
func (m *Memory) Save(ctx context.Context, vectors []VectorInput) (*SaveResponse, error) {
	store, err := m.current()
	if err != nil {
		return &SaveResponse{Error: err.Error()}, err
	}

	records := make([]core.VectorRecord, len(vectors))
	for i, v := range vectors {
		records[i] = core.VectorRecord{ID: v.ID, Embedding: toFloat32(v.Values), Metadata: v.Metadata}
	}

	result, err := store.Save(ctx, records)
	if err != nil {
		return &SaveResponse{Error: err.Error()}, err
	}
	return &SaveResponse{
		Success: result.Success(),
		Saved:   result.Saved,
		Failed:  failedIDs(result),
		Error:   result.LastError,
	}, nil
}

// Query runs a similarity search. Retrieval problems degrade to fewer or
// unscored matches and never surface as errors.
func (m *Memory) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	store, err := m.current()
	if err != nil {
		return nil, err
	}

	matches, err := store.Query(ctx, toFloat32(req.Embedding), core.QueryOptions{
		TopK:      req.TopK,
		Keywords:  req.Keywords,
		Filters:   req.Filters,
		Threshold: req.Threshold,
	})
	if err != nil {
		return nil, err
	}
	return &QueryResponse{Matches: matches}, nil
}

// CheckExisting returns the subset of ids already stored
func (m *Memory) CheckExisting(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	store, err := m.current()
	if err != nil {
		return nil, err
	}
	return store.CheckExisting(ctx, ids, nil)
}

// Clear deletes every stored vector
func (m *Memory) Clear(ctx context.Context) error {
	store, err := m.current()
	if err != nil {
		return err
	}
	return store.Clear(ctx)
}

// Count returns the number of stored vectors
func (m *Memory) Count(ctx context.Context) (int64, error) {
	store, err := m.current()
	if err != nil {
		return 0, err
	}
	return store.Count(ctx)
}

// Close closes the store. It is safe to call more than once.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}

// ==========================================
// Text operations (require embedder)
// ==========================================

// SaveText embeds text and stores it with the text as metadata content.
// An empty id is replaced by a generated UUID, which is returned.
func (m *Memory) SaveText(ctx context.Context, id, text string, metadata map[string]any) (string, error) {
	if m.embedder == nil {
		return "", ErrEmbedderNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	store, err := m.current()
	if err != nil {
		return "", err
	}

	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if err := m.checkVector(vec); err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.New().String()
	}

	meta := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["content"] = text

	if err := store.StoreVector(ctx, id, vec, meta); err != nil {
		return "", err
	}
	return id, nil
}

// SaveTexts embeds texts in one batch and stores them under generated ids,
// returned in input order. Empty texts are skipped and get an empty id.
func (m *Memory) SaveTexts(ctx context.Context, texts []string, metadata map[string]any) ([]string, *SaveResponse, error) {
	if m.embedder == nil {
		return nil, nil, ErrEmbedderNotConfigured
	}
	store, err := m.current()
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, len(texts))
	batch := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		batch = append(batch, text)
		positions = append(positions, i)
	}
	if len(batch) == 0 {
		return ids, &SaveResponse{Success: true}, nil
	}

	vectors, err := m.embedder.EmbedBatch(ctx, batch)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(batch) {
		return nil, nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(batch))
	}
	for _, vec := range vectors {
		if err := m.checkVector(vec); err != nil {
			return nil, nil, err
		}
	}

	records := make([]core.VectorRecord, len(batch))
	for j, text := range batch {
		meta := make(map[string]any, len(metadata)+1)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["content"] = text

		id := uuid.New().String()
		ids[positions[j]] = id
		records[j] = core.VectorRecord{ID: id, Embedding: vectors[j], Metadata: meta}
	}

	result, err := store.Save(ctx, records)
	if err != nil {
		return nil, nil, err
	}
	return ids, &SaveResponse{
		Success: result.Success(),
		Saved:   result.Saved,
		Failed:  failedIDs(result),
		Error:   result.LastError,
	}, nil
}

// QueryText embeds text and runs Query with the remaining request fields.
// The text itself is not used as a keyword.
func (m *Memory) QueryText(ctx context.Context, text string, req QueryRequest) (*QueryResponse, error) {
	if m.embedder == nil {
		return nil, ErrEmbedderNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if err := m.checkVector(vec); err != nil {
		return nil, err
	}
	req.Embedding = toFloat64(vec)
	return m.Query(ctx, req)
}

// checkVector rejects embedder output whose length disagrees with Dim.
// A Dim of 0 or less means the embedder does not declare one.
func (m *Memory) checkVector(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrEmbeddingFailed)
	}
	if dim := m.embedder.Dim(); dim > 0 && len(vec) != dim {
		return fmt.Errorf("%w: vector has %d dimensions, embedder declares %d", ErrEmbeddingFailed, len(vec), dim)
	}
	return nil
}

func failedIDs(result *core.SaveResult) []string {
	if result.Success() {
		return nil
	}
	return result.FailedIDs()
}

func toFloat32(values []float64) []float32 {
	if values == nil {
		return nil
	}
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}
