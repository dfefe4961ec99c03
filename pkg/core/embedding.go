package core

import (
	"fmt"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/liliang-cn/vecmem/internal/vecext"
)

// VectorRecord is the only persisted entity: an embedding with free-form metadata
type VectorRecord struct {
	ID        string         `json:"id"`
	Embedding []float32      `json:"values"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// Match is a single retrieval result
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// QueryOptions defines options for similarity queries
type QueryOptions struct {
	TopK      int            `json:"topK,omitempty"`
	Keywords  []string       `json:"keywords,omitempty"`
	Filters   map[string]any `json:"filters,omitempty"`
	Threshold *float64       `json:"threshold,omitempty"` // nil lets the threshold policy decide
}

// Failure describes one record that could not be saved
type Failure struct {
	Index  int    `json:"index"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// SaveResult reports the outcome of a batch save
type SaveResult struct {
	Saved     int       `json:"saved"`
	Failures  []Failure `json:"failures,omitempty"`
	LastError string    `json:"lastError,omitempty"`
}

// Success reports whether every record was saved
func (r *SaveResult) Success() bool {
	return len(r.Failures) == 0
}

// FailedIDs returns the ids of the failed records, in submission order
func (r *SaveResult) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		ids = append(ids, f.ID)
	}
	return ids
}

// Config represents configuration options for the vector store
type Config struct {
	Path                string                `json:"path"`                // Store file path
	BatchSize           int                   `json:"batchSize"`           // Records per save / existence batch
	DefaultTopK         int                   `json:"defaultTopK"`         // TopK used when a query passes none
	MaxThreads          int                   `json:"maxThreads"`          // Upper bound for PRAGMA threads, further capped by CPU count
	MemoryLimitBytes    int64                 `json:"memoryLimitBytes"`    // PRAGMA soft_heap_limit, 0 leaves the default
	DisableAcceleration bool                  `json:"disableAcceleration"` // Skip loading the similarity functions
	SimilarityFunction  string                `json:"similarityFunction"`  // SQL function returning cosine similarity
	DistanceFunction    string                `json:"distanceFunction"`    // SQL function returning cosine distance
	SoftRowLimit        int64                 `json:"softRowLimit"`        // Count warns above this many rows
	StatementCacheSize  int                   `json:"statementCacheSize"`  // Prepared statements kept alive
	Logger              Logger                `json:"-"`
	Registerer          prometheus.Registerer `json:"-"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:          100,
		DefaultTopK:        10,
		MaxThreads:         4,
		MemoryLimitBytes:   256 << 20,
		SimilarityFunction: vecext.CosineSimilarity,
		DistanceFunction:   vecext.CosineDistance,
		SoftRowLimit:       100000,
		StatementCacheSize: 64,
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validate fills zero values from DefaultConfig and rejects unusable settings
func (c *Config) validate() error {
	def := DefaultConfig()
	if c.Path == "" {
		return fmt.Errorf("%w: path cannot be empty", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = def.DefaultTopK
	}
	if c.MaxThreads <= 0 {
		c.MaxThreads = def.MaxThreads
	}
	if c.MemoryLimitBytes < 0 {
		return fmt.Errorf("%w: memory limit must be non-negative", ErrInvalidConfig)
	}
	if c.SimilarityFunction == "" {
		c.SimilarityFunction = def.SimilarityFunction
	}
	if c.DistanceFunction == "" {
		c.DistanceFunction = def.DistanceFunction
	}
	// function names are interpolated into SQL
	if !identifierPattern.MatchString(c.SimilarityFunction) {
		return fmt.Errorf("%w: bad similarity function name %q", ErrInvalidConfig, c.SimilarityFunction)
	}
	if !identifierPattern.MatchString(c.DistanceFunction) {
		return fmt.Errorf("%w: bad distance function name %q", ErrInvalidConfig, c.DistanceFunction)
	}
	if c.SoftRowLimit <= 0 {
		c.SoftRowLimit = def.SoftRowLimit
	}
	if c.StatementCacheSize <= 0 {
		c.StatementCacheSize = def.StatementCacheSize
	}
	if c.Logger == nil {
		c.Logger = NopLogger()
	}
	return nil
}
