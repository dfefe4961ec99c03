package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStmtCacheEvictsAndReuses(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	cache, err := newStmtCache(2, NopLogger())
	require.NoError(t, err)

	first, err := cache.get(ctx, store.db, "SELECT 1")
	require.NoError(t, err)
	again, err := cache.get(ctx, store.db, "SELECT 1")
	require.NoError(t, err)
	assert.Same(t, first, again)

	for i := 2; i <= 4; i++ {
		_, err := cache.get(ctx, store.db, fmt.Sprintf("SELECT %d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cache.len())

	// the evicted statement was closed
	var n int
	assert.Error(t, first.QueryRowContext(ctx).Scan(&n))

	cache.purge()
	assert.Equal(t, 0, cache.len())
}

func TestStmtCacheRejectsBadSQL(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.stmts.get(context.Background(), store.db, "SELECT nope(")
	assert.Error(t, err)
}
