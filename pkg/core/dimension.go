package core

import (
	"context"
	"fmt"
)

// DimensionAnalysis describes how stored vectors are spread over dimensionalities.
// Queries only ever see rows of their own dimensionality, so a mixed store
// usually means an embedding model was swapped without clearing old data.
type DimensionAnalysis struct {
	PrimaryDim   int         `json:"primaryDim"`   // Most common dimension
	PrimaryCount int         `json:"primaryCount"` // Count of primary dimension
	Dimensions   map[int]int `json:"dimensions"`   // Map of dimension -> count
	TotalVectors int         `json:"totalVectors"`
	Mixed        bool        `json:"mixed"` // More than one dimensionality present
}

// AnalyzeDimensions reports the dimension distribution of the stored vectors
func (s *Store) AnalyzeDimensions(ctx context.Context) (*DimensionAnalysis, error) {
	release, err := s.session("analyze_dimensions")
	if err != nil {
		return nil, err
	}
	defer release()

	stmt, err := s.stmts.get(ctx, s.db, "SELECT length(embedding) / 4 AS dim, COUNT(*) FROM vectors WHERE embedding IS NOT NULL GROUP BY dim")
	if err != nil {
		return nil, wrapError("analyze_dimensions", fmt.Errorf("failed to prepare query: %w", err))
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, wrapError("analyze_dimensions", fmt.Errorf("failed to query dimensions: %w", err))
	}
	defer func() { _ = rows.Close() }()

	analysis := &DimensionAnalysis{Dimensions: make(map[int]int)}
	for rows.Next() {
		var dim, count int
		if err := rows.Scan(&dim, &count); err != nil {
			return nil, wrapError("analyze_dimensions", fmt.Errorf("failed to scan row: %w", err))
		}
		analysis.Dimensions[dim] = count
		analysis.TotalVectors += count
		// ties go to the larger dimension
		if count > analysis.PrimaryCount || (count == analysis.PrimaryCount && dim > analysis.PrimaryDim) {
			analysis.PrimaryDim = dim
			analysis.PrimaryCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("analyze_dimensions", fmt.Errorf("error iterating rows: %w", err))
	}

	analysis.Mixed = len(analysis.Dimensions) > 1
	if analysis.Mixed {
		s.logger.Warn("store holds vectors of several dimensions, queries only match their own",
			"dimensions", analysis.Dimensions)
	}
	return analysis, nil
}
