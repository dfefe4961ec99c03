package core

import (
	"encoding/json"
	"fmt"
	"math"
)

// Sanitize returns a storage-safe copy of values with every NaN or infinite
// component replaced by 0. repaired reports whether any replacement happened.
// Nil or empty input is rejected with ErrInvalidEmbedding.
func Sanitize(values []float32) (clean []float32, repaired bool, err error) {
	if len(values) == 0 {
		return nil, false, ErrInvalidEmbedding
	}

	clean = make([]float32, len(values))
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			repaired = true
			continue
		}
		clean[i] = v
	}
	return clean, repaired, nil
}

// SanitizeValue is Sanitize for dynamically typed input such as decoded JSON.
// Anything that is not a non-empty numeric sequence is rejected.
func SanitizeValue(raw any) ([]float32, bool, error) {
	switch v := raw.(type) {
	case []float32:
		return Sanitize(v)
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return Sanitize(out)
	case []any:
		out := make([]float32, len(v))
		for i, item := range v {
			f, ok := toFloat64(item)
			if !ok {
				return nil, false, fmt.Errorf("%w: element %d is %T", ErrInvalidEmbedding, i, item)
			}
			out[i] = float32(f)
		}
		return Sanitize(out)
	case nil:
		return nil, false, ErrInvalidEmbedding
	default:
		return nil, false, fmt.Errorf("%w: %T is not a sequence", ErrInvalidEmbedding, raw)
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		// out of range parses as ±Inf with an error; Sanitize zeroes it
		return f, err == nil || math.IsInf(f, 0)
	case nil:
		// JSON null decodes here; treat like a non-finite slot
		return math.NaN(), true
	default:
		return 0, false
	}
}
