// Package vecext registers vector similarity SQL scalar functions with the
// modernc.org/sqlite driver. Registration is process wide and only affects
// connections opened after it succeeds.
package vecext

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strings"
	"sync"

	sqlite "modernc.org/sqlite"

	"github.com/liliang-cn/vecmem/internal/encoding"
)

// Names of the functions installed by Register.
const (
	CosineSimilarity = "vec_cosine_similarity"
	CosineDistance   = "vec_cosine_distance"
	Dims             = "vec_dims"
	// Fold lowercases text with Go's Unicode rules. SQLite's own lower()
	// only folds ASCII.
	Fold = "vec_fold"
)

var (
	registerOnce sync.Once
	registerErr  error

	foldOnce sync.Once
	foldErr  error
)

// Register installs the vector functions. It is safe to call repeatedly; the
// outcome of the first call is returned every time.
func Register() error {
	registerOnce.Do(func() {
		if err := sqlite.RegisterDeterministicScalarFunction(CosineSimilarity, 2, cosineSimilarityImpl); err != nil {
			registerErr = fmt.Errorf("register %s: %w", CosineSimilarity, err)
			return
		}
		if err := sqlite.RegisterDeterministicScalarFunction(CosineDistance, 2, cosineDistanceImpl); err != nil {
			registerErr = fmt.Errorf("register %s: %w", CosineDistance, err)
			return
		}
		if err := sqlite.RegisterDeterministicScalarFunction(Dims, 1, dimsImpl); err != nil {
			registerErr = fmt.Errorf("register %s: %w", Dims, err)
		}
	})
	return registerErr
}

// RegisterFold installs the text folding function. It is independent of the
// similarity functions so keyword matching works with acceleration disabled.
func RegisterFold() error {
	foldOnce.Do(func() {
		if err := sqlite.RegisterDeterministicScalarFunction(Fold, 1, foldImpl); err != nil {
			foldErr = fmt.Errorf("register %s: %w", Fold, err)
		}
	})
	return foldErr
}

// FoldString is the Go side of vec_fold; query arguments compared against
// folded columns must go through it.
func FoldString(s string) string {
	return strings.ToLower(s)
}

// Cosine returns the cosine similarity of a and b. ok is false when the
// vectors differ in length, are empty, or one has zero magnitude.
func Cosine(a, b []float32) (sim float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na2, nb2 float64
	for i := range a {
		va := float64(a[i])
		vb := float64(b[i])
		dot += va * vb
		na2 += va * va
		nb2 += vb * vb
	}
	if na2 == 0 || nb2 == 0 {
		return 0, false
	}
	sim = dot / (math.Sqrt(na2) * math.Sqrt(nb2))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0, false
	}
	// clamp rounding noise
	return math.Max(-1, math.Min(1, sim)), true
}

// pair decodes both arguments. A nil result with a nil error means SQL NULL.
func pair(name string, args []driver.Value) ([]float32, []float32, error) {
	if len(args) != 2 {
		return nil, nil, fmt.Errorf("%s: expected 2 arguments, got %d", name, len(args))
	}
	a, ok := asBlob(args[0])
	if !ok {
		return nil, nil, nil
	}
	b, ok := asBlob(args[1])
	if !ok {
		return nil, nil, nil
	}
	va, err := encoding.DecodeVector(a)
	if err != nil {
		return nil, nil, nil
	}
	vb, err := encoding.DecodeVector(b)
	if err != nil {
		return nil, nil, nil
	}
	return va, vb, nil
}

func asBlob(arg driver.Value) ([]byte, bool) {
	switch v := arg.(type) {
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

func cosineSimilarityImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, b, err := pair(CosineSimilarity, args)
	if err != nil || a == nil {
		return nil, err
	}
	sim, ok := Cosine(a, b)
	if !ok {
		return nil, nil
	}
	return sim, nil
}

func cosineDistanceImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, b, err := pair(CosineDistance, args)
	if err != nil || a == nil {
		return nil, err
	}
	sim, ok := Cosine(a, b)
	if !ok {
		return nil, nil
	}
	return 1 - sim, nil
}

func dimsImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s: expected 1 argument, got %d", Dims, len(args))
	}
	blob, ok := asBlob(args[0])
	if !ok || len(blob)%4 != 0 {
		return nil, nil
	}
	return int64(len(blob) / 4), nil
}

func foldImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s: expected 1 argument, got %d", Fold, len(args))
	}
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return FoldString(v), nil
	case []byte:
		return FoldString(string(v)), nil
	default:
		// numbers fold to their text form, like lower()
		return FoldString(fmt.Sprint(v)), nil
	}
}
