package core

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/liliang-cn/vecmem/internal/vecext"
)

// Open opens or creates the store file, applies performance settings,
// ensures the schema and loads the similarity functions. Calling Open on an
// open store is a no-op. Failing to open the file is returned as
// ErrStoreUnavailable, as is a failure to install the keyword fold function.
// Pragma and similarity function failures are only logged.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil
	}

	// Functions must be registered before the first connection is made
	if err := vecext.RegisterFold(); err != nil {
		return wrapError("open", fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}
	accelerated := false
	if !s.config.DisableAcceleration {
		if err := vecext.Register(); err != nil {
			s.logger.Warn("similarity functions unavailable, falling back", "error", err)
		} else {
			accelerated = true
		}
	}

	if err := ensureDir(s.config.Path); err != nil {
		return wrapError("open", fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}

	// busy_timeout: wait for locks instead of failing immediately
	// journal_mode=WAL: readers do not block the writer
	dsn := s.config.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if isMemoryPath(s.config.Path) {
		dsn = s.config.Path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return wrapError("open", fmt.Errorf("%w: failed to open database: %v", ErrStoreUnavailable, err))
	}

	// One logical session: a single connection that is never recycled, so
	// per-connection pragmas stick.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return wrapError("open", fmt.Errorf("%w: failed to open database: %v", ErrStoreUnavailable, err))
	}

	s.applyPragmas(ctx, db)

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return wrapError("open", fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}

	stmts, err := newStmtCache(s.config.StatementCacheSize, s.logger)
	if err != nil {
		_ = db.Close()
		return wrapError("open", err)
	}

	s.db = db
	s.stmts = stmts
	s.accelerated = accelerated
	s.open = true

	s.logger.Info("vector store opened", "accelerated", accelerated)
	return nil
}

// applyPragmas applies best-effort performance settings
func (s *Store) applyPragmas(ctx context.Context, db *sql.DB) {
	threads := min(runtime.NumCPU(), s.config.MaxThreads)
	pragmas := []string{
		fmt.Sprintf("PRAGMA threads = %d", threads),
		// bulk writes: fsync at checkpoints only, temp b-trees in memory
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if s.config.MemoryLimitBytes > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA soft_heap_limit = %d", s.config.MemoryLimitBytes))
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			s.logger.Warn("failed to apply pragma", "pragma", pragma, "error", err)
		}
	}
}

// createTables creates the vectors table and its id lookup index
func createTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vectors (
			id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vectors_id ON vectors(id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

func ensureDir(path string) error {
	if isMemoryPath(path) {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}
