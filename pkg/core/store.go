package core

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

const tableName = "vectors"

// Store is a single-session local vector store backed by one SQLite file.
// Construct it with New and call Open before use.
type Store struct {
	config  Config
	logger  Logger
	metrics *metrics

	mu          sync.RWMutex // guards the session lifecycle below
	db          *sql.DB
	stmts       *stmtCache
	open        bool
	accelerated bool
	tiers       []tier
}

// New creates a store with the given configuration. It does not touch disk.
func New(config Config) (*Store, error) {
	if err := config.validate(); err != nil {
		return nil, wrapError("init", err)
	}

	s := &Store{
		config:  config,
		logger:  config.Logger.With("path", config.Path),
		metrics: newMetrics(config.Registerer),
	}
	s.tiers = []tier{
		&nativeTier{store: s},
		&distanceTier{store: s},
		&unscoredTier{store: s},
	}
	return s, nil
}

// Config returns the effective configuration
func (s *Store) Config() Config {
	return s.config
}

// IsOpen reports whether the session is open
func (s *Store) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// Accelerated reports whether the similarity functions were loaded for this session
func (s *Store) Accelerated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open && s.accelerated
}

// session acquires the read side of the lifecycle lock. The returned release
// func must be called when the operation completes.
func (s *Store) session(op string) (func(), error) {
	s.mu.RLock()
	if !s.open || s.db == nil {
		s.mu.RUnlock()
		return nil, wrapError(op, ErrStoreClosed)
	}
	return s.mu.RUnlock, nil
}

// Count returns the total number of rows
func (s *Store) Count(ctx context.Context) (int64, error) {
	release, err := s.session("count")
	if err != nil {
		return 0, err
	}
	defer release()

	stmt, err := s.stmts.get(ctx, s.db, "SELECT COUNT(*) FROM "+tableName)
	if err != nil {
		return 0, wrapError("count", fmt.Errorf("failed to prepare count: %w", err))
	}

	var n int64
	if err := stmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, wrapError("count", fmt.Errorf("failed to count rows: %w", err))
	}

	s.metrics.rowsCount.Set(float64(n))
	if n > s.config.SoftRowLimit {
		s.logger.Warn("vector table is large, brute-force queries slow down linearly",
			"rows", n, "soft_limit", s.config.SoftRowLimit)
	}
	return n, nil
}

// Clear deletes every row
func (s *Store) Clear(ctx context.Context) error {
	release, err := s.session("clear")
	if err != nil {
		return err
	}
	defer release()

	res, err := s.db.ExecContext(ctx, "DELETE FROM "+tableName)
	if err != nil {
		return wrapError("clear", fmt.Errorf("failed to clear vectors: %w", err))
	}
	n, _ := res.RowsAffected()
	s.logger.Info("vector table cleared", "rows", n)
	return nil
}
