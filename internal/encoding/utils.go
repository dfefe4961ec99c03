package encoding

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when a vector cannot be encoded or decoded
var ErrInvalidVector = errors.New("invalid vector")

// EncodeVector encodes a float32 vector as a little-endian BLOB, four bytes
// per component and no header, so that length(blob)/4 is the dimensionality.
func EncodeVector(vector []float32) ([]byte, error) {
	if len(vector) == 0 {
		return nil, ErrInvalidVector
	}

	buf := make([]byte, 4*len(vector))
	for i, val := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf, nil
}

// DecodeVector decodes a BLOB produced by EncodeVector
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: blob length %d", ErrInvalidVector, len(data))
	}

	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector, nil
}

// EncodedSize returns the BLOB size of a vector with dim components
func EncodedSize(dim int) int {
	return dim * 4
}

// EncodeMetadata encodes metadata to a JSON string. Nil metadata encodes as "{}".
func EncodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	return string(data), nil
}

// DecodeMetadata decodes a JSON string into a metadata map.
// Empty input yields an empty, non-nil map.
func DecodeMetadata(jsonStr string) (map[string]any, error) {
	if jsonStr == "" {
		return map[string]any{}, nil
	}

	var metadata map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &metadata); err != nil {
		return map[string]any{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	return metadata, nil
}
