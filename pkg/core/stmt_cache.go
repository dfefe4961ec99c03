package core

import (
	"context"
	"database/sql"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// stmtCache keeps prepared statements keyed by their SQL text.
// Evicted statements are closed.
type stmtCache struct {
	cache  *lru.Cache[string, *sql.Stmt]
	logger Logger
}

func newStmtCache(size int, logger Logger) (*stmtCache, error) {
	c := &stmtCache{logger: logger}
	cache, err := lru.NewWithEvict[string, *sql.Stmt](size, func(query string, stmt *sql.Stmt) {
		if err := stmt.Close(); err != nil {
			c.logger.Warn("failed to close evicted statement", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create statement cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

// get returns the cached statement for query, preparing it on first use
func (c *stmtCache) get(ctx context.Context, db *sql.DB, query string) (*sql.Stmt, error) {
	if stmt, ok := c.cache.Get(query); ok {
		return stmt, nil
	}
	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.cache.Add(query, stmt)
	return stmt, nil
}

func (c *stmtCache) len() int {
	return c.cache.Len()
}

// purge closes every cached statement
func (c *stmtCache) purge() {
	c.cache.Purge()
}
