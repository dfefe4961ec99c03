package vecext

import (
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/vecmem/internal/encoding"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	require.NoError(t, Register())
	require.NoError(t, RegisterFold())

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "vecext.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func blob(t *testing.T, v ...float32) []byte {
	t.Helper()
	b, err := encoding.EncodeVector(v)
	require.NoError(t, err)
	return b
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
		ok   bool
	}{
		{name: "identical", a: []float32{1, 0, 0}, b: []float32{1, 0, 0}, want: 1, ok: true},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0, ok: true},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1, ok: true},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, ok: false},
		{name: "length mismatch", a: []float32{1, 0}, b: []float32{1, 0, 0}, ok: false},
		{name: "empty", a: nil, b: nil, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Cosine(tt.a, tt.b)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	require.NoError(t, Register())
	require.NoError(t, Register())
}

func TestSQLFunctions(t *testing.T) {
	db := openTestDB(t)

	var sim float64
	require.NoError(t, db.QueryRow(`SELECT vec_cosine_similarity(?, ?)`, blob(t, 1, 0), blob(t, 1, 0)).Scan(&sim))
	assert.InDelta(t, 1.0, sim, 1e-9)

	var dist float64
	require.NoError(t, db.QueryRow(`SELECT vec_cosine_distance(?, ?)`, blob(t, 1, 0), blob(t, 0, 1)).Scan(&dist))
	assert.InDelta(t, 1.0, dist, 1e-9)

	var dims int64
	require.NoError(t, db.QueryRow(`SELECT vec_dims(?)`, blob(t, 1, 2, 3)).Scan(&dims))
	assert.Equal(t, int64(3), dims)
}

func TestSQLFunctionsReturnNullForDegenerateInput(t *testing.T) {
	db := openTestDB(t)

	var sim sql.NullFloat64
	require.NoError(t, db.QueryRow(`SELECT vec_cosine_similarity(?, ?)`, blob(t, 0, 0), blob(t, 1, 0)).Scan(&sim))
	assert.False(t, sim.Valid)

	require.NoError(t, db.QueryRow(`SELECT vec_cosine_similarity(?, ?)`, blob(t, 1, 0), blob(t, 1, 0, 0)).Scan(&sim))
	assert.False(t, sim.Valid)

	require.NoError(t, db.QueryRow(`SELECT vec_cosine_distance(NULL, ?)`, blob(t, 1, 0)).Scan(&sim))
	assert.False(t, sim.Valid)

	var coalesced float64
	require.NoError(t, db.QueryRow(`SELECT COALESCE(vec_cosine_similarity(?, ?), 0.0)`, blob(t, 0, 0), blob(t, 1, 0)).Scan(&coalesced))
	assert.Equal(t, 0.0, coalesced)
	assert.False(t, math.IsNaN(coalesced))
}

func TestFunctionsAreListed(t *testing.T) {
	db := openTestDB(t)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM pragma_function_list WHERE name = ?`, CosineSimilarity).Scan(&n))
	assert.Greater(t, n, 0)
}

func TestFold(t *testing.T) {
	db := openTestDB(t)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "ascii", in: "Hello GO", want: "hello go"},
		{name: "umlauts", in: "ÜBER Äpfel", want: "über äpfel"},
		{name: "greek", in: "ΣΟΦΙΑ", want: "σοφια"},
		{name: "number", in: int64(42), want: "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			require.NoError(t, db.QueryRow(`SELECT vec_fold(?)`, tt.in).Scan(&got))
			assert.Equal(t, tt.want, got)
			if s, ok := tt.in.(string); ok {
				assert.Equal(t, tt.want, FoldString(s))
			}
		})
	}

	var null sql.NullString
	require.NoError(t, db.QueryRow(`SELECT vec_fold(NULL)`).Scan(&null))
	assert.False(t, null.Valid)

	// SQLite's builtin only folds ASCII
	var builtin string
	require.NoError(t, db.QueryRow(`SELECT lower('ÜBER')`).Scan(&builtin))
	assert.Equal(t, "Über", builtin)
}
