package core

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/liliang-cn/vecmem/internal/encoding"
)

// UnscoredScore is the neutral score given by the unscored tier
const UnscoredScore = 0.5

// tierQuery carries everything a tier needs to run one retrieval attempt
type tierQuery struct {
	vector    []byte // encoded, sanitized query embedding
	predicate Predicate
	threshold float64
	topK      int
}

// tier is one retrieval strategy. attempt returns errTierUnsupported when
// the capability it relies on is absent; any other error is an execution
// failure. Both make the engine move on to the next tier.
type tier interface {
	name() string
	scored() bool
	attempt(ctx context.Context, q *tierQuery) ([]Match, error)
}

// nativeTier scores with the cosine similarity SQL function
type nativeTier struct {
	store *Store
}

func (t *nativeTier) name() string { return "native" }
func (t *nativeTier) scored() bool { return true }

func (t *nativeTier) attempt(ctx context.Context, q *tierQuery) ([]Match, error) {
	if !t.store.accelerated {
		return nil, errTierUnsupported
	}
	fn := t.store.config.SimilarityFunction
	ok, err := t.store.hasFunction(ctx, fn)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errTierUnsupported
	}
	return t.store.scoredQuery(ctx, fmt.Sprintf("COALESCE(%s(embedding, ?), 0.0)", fn), q)
}

// distanceTier scores with the cosine distance SQL function, similarity = 1 - distance
type distanceTier struct {
	store *Store
}

func (t *distanceTier) name() string { return "distance" }
func (t *distanceTier) scored() bool { return true }

func (t *distanceTier) attempt(ctx context.Context, q *tierQuery) ([]Match, error) {
	if !t.store.accelerated {
		return nil, errTierUnsupported
	}
	fn := t.store.config.DistanceFunction
	return t.store.scoredQuery(ctx, fmt.Sprintf("COALESCE(1.0 - %s(embedding, ?), 0.0)", fn), q)
}

// unscoredTier returns predicate matches with a neutral score. It has no
// preconditions.
type unscoredTier struct {
	store *Store
}

func (t *unscoredTier) name() string { return "unscored" }
func (t *unscoredTier) scored() bool { return false }

func (t *unscoredTier) attempt(ctx context.Context, q *tierQuery) ([]Match, error) {
	query := fmt.Sprintf("SELECT id, metadata, %v FROM vectors WHERE %s LIMIT ?", UnscoredScore, q.predicate.Where)
	args := append(append([]any{}, q.predicate.Args...), q.topK)
	return t.store.runMatchQuery(ctx, query, args)
}

// hasFunction probes pragma_function_list for a SQL function name
func (s *Store) hasFunction(ctx context.Context, name string) (bool, error) {
	stmt, err := s.stmts.get(ctx, s.db, "SELECT COUNT(*) FROM pragma_function_list WHERE name = ?")
	if err != nil {
		return false, fmt.Errorf("failed to prepare function probe: %w", err)
	}
	var n int
	if err := stmt.QueryRowContext(ctx, name).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to probe function %s: %w", name, err)
	}
	return n > 0, nil
}

// scoredQuery runs a threshold-filtered, score-ordered scan using scoreExpr,
// a SQL expression whose single placeholder is the query vector
func (s *Store) scoredQuery(ctx context.Context, scoreExpr string, q *tierQuery) ([]Match, error) {
	query := fmt.Sprintf(`SELECT id, metadata, score FROM (
		SELECT id, metadata, %s AS score FROM vectors WHERE %s
	) WHERE score >= ? ORDER BY score DESC LIMIT ?`, scoreExpr, q.predicate.Where)

	args := make([]any, 0, len(q.predicate.Args)+3)
	args = append(args, q.vector)
	args = append(args, q.predicate.Args...)
	args = append(args, q.threshold, q.topK)
	return s.runMatchQuery(ctx, query, args)
}

// runMatchQuery executes a query returning (id, metadata, score) rows and
// normalizes them into matches. Rows are fully read before returning so the
// single connection is free for the next statement.
func (s *Store) runMatchQuery(ctx context.Context, query string, args []any) ([]Match, error) {
	stmt, err := s.stmts.get(ctx, s.db, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close rows", "error", closeErr)
		}
	}()

	matches := []Match{}
	for rows.Next() {
		var (
			id       string
			metadata sql.NullString
			score    sql.NullFloat64
		)
		if err := rows.Scan(&id, &metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, Match{
			ID:       id,
			Score:    score.Float64,
			Metadata: s.normalizeMetadata(id, metadata.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return matches, nil
}

// normalizeMetadata decodes stored metadata and guarantees a content field
func (s *Store) normalizeMetadata(id, raw string) map[string]any {
	metadata, err := encoding.DecodeMetadata(raw)
	if err != nil {
		s.logger.Warn("failed to decode metadata", "id", id, "error", err)
	}
	if _, ok := metadata["content"]; !ok {
		metadata["content"] = ""
	}
	return metadata
}
