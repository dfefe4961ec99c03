package core

import (
	"context"
	"fmt"
	"strings"
)

// ProgressFunc is called after each batch with the number of ids processed so far
type ProgressFunc func(processed, total int)

// CheckExisting returns the subset of ids already stored. Lookups run in
// sequential batches of Config.BatchSize; progress, when non-nil, is called
// after each one. A failing batch stops the scan and the ids found so far are
// returned without an error. Empty input returns immediately without touching
// storage.
func (s *Store) CheckExisting(ctx context.Context, ids []string, progress ProgressFunc) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}

	release, err := s.session("check_existing")
	if err != nil {
		return nil, err
	}
	defer release()

	existing := make([]string, 0)
	total := len(ids)
	batchSize := s.config.BatchSize

	for start := 0; start < total; start += batchSize {
		end := min(start+batchSize, total)
		found, err := s.existingBatch(ctx, ids[start:end])
		if err != nil {
			s.logger.Warn("existence lookup failed, returning partial result",
				"processed", start, "total", total, "error", err)
			return existing, nil
		}
		existing = append(existing, found...)

		if progress != nil {
			progress(end, total)
		}
	}

	return existing, nil
}

// existingBatch runs one set-membership query
func (s *Store) existingBatch(ctx context.Context, ids []string) ([]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf("SELECT id FROM vectors WHERE id IN (%s)", placeholders)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	stmt, err := s.stmts.get(ctx, s.db, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare existence query: %w", err)
	}

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var found []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		found = append(found, id)
	}
	return found, rows.Err()
}
