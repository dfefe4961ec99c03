package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/liliang-cn/vecmem/internal/encoding"
)

const upsertSQL = `
	INSERT INTO vectors (id, embedding, metadata, created_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding, metadata = excluded.metadata
`

// preparedRecord is a record that passed validation and is ready to write
type preparedRecord struct {
	index    int
	id       string
	vector   []byte
	metadata string
}

// Save upserts records in sequential batches of Config.BatchSize. Bad records
// and failing rows are reported in the result without aborting the rest of
// the submission. The error return is reserved for an unavailable store.
func (s *Store) Save(ctx context.Context, records []VectorRecord) (*SaveResult, error) {
	release, err := s.session("save")
	if err != nil {
		return nil, err
	}
	defer release()

	result := &SaveResult{}
	batchSize := s.config.BatchSize

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		s.saveBatch(ctx, records[start:end], start, result)
	}

	s.metrics.saved.Add(float64(result.Saved))
	s.metrics.failed.Add(float64(len(result.Failures)))

	if result.Success() {
		s.logger.Debug("save completed", "count", result.Saved)
	} else {
		s.logger.Warn("save completed with failures",
			"saved", result.Saved, "failed", len(result.Failures), "last_error", result.LastError)
	}
	return result, nil
}

// StoreVector saves a single record and returns an error if it failed
func (s *Store) StoreVector(ctx context.Context, id string, embedding []float32, metadata map[string]any) error {
	result, err := s.Save(ctx, []VectorRecord{{ID: id, Embedding: embedding, Metadata: metadata}})
	if err != nil {
		return err
	}
	if !result.Success() {
		return wrapError("store_vector", fmt.Errorf("failed to store %q: %w", id, result.Failures[0].Err))
	}
	return nil
}

// prepare validates and encodes one record
func (s *Store) prepare(index int, rec VectorRecord) (preparedRecord, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return preparedRecord{}, errors.New("missing id")
	}

	clean, repaired, err := Sanitize(rec.Embedding)
	if err != nil {
		return preparedRecord{}, err
	}
	if repaired {
		s.metrics.repaired.Inc()
		s.logger.Debug("non-finite embedding values replaced with zero", "id", rec.ID)
	}

	vector, err := encoding.EncodeVector(clean)
	if err != nil {
		return preparedRecord{}, err
	}
	metadata, err := encoding.EncodeMetadata(rec.Metadata)
	if err != nil {
		return preparedRecord{}, err
	}

	return preparedRecord{index: index, id: rec.ID, vector: vector, metadata: metadata}, nil
}

// saveBatch writes one batch inside a transaction, accumulating into result
func (s *Store) saveBatch(ctx context.Context, batch []VectorRecord, offset int, result *SaveResult) {
	fail := func(index int, id string, err error) {
		result.Failures = append(result.Failures, Failure{Index: index, ID: id, Reason: err.Error(), Err: err})
		result.LastError = err.Error()
	}

	ready := make([]preparedRecord, 0, len(batch))
	for i, rec := range batch {
		p, err := s.prepare(offset+i, rec)
		if err != nil {
			fail(offset+i, rec.ID, err)
			continue
		}
		ready = append(ready, p)
	}
	if len(ready) == 0 {
		return
	}

	failAll := func(err error) {
		for _, p := range ready {
			fail(p.index, p.id, err)
		}
	}

	stmt, err := s.stmts.get(ctx, s.db, upsertSQL)
	if err != nil {
		failAll(fmt.Errorf("failed to prepare statement: %w", err))
		return
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		failAll(fmt.Errorf("failed to begin transaction: %w", err))
		return
	}
	defer func() {
		// no-op after a successful commit
		_ = tx.Rollback()
	}()

	txStmt := tx.StmtContext(ctx, stmt)
	saved := 0
	for _, p := range ready {
		if _, err := txStmt.ExecContext(ctx, p.id, p.vector, p.metadata); err != nil {
			fail(p.index, p.id, fmt.Errorf("failed to upsert: %w", err))
			continue
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		// nothing from this batch reached disk
		failed := make(map[int]bool, len(result.Failures))
		for _, f := range result.Failures {
			failed[f.Index] = true
		}
		commitErr := fmt.Errorf("failed to commit batch: %w", err)
		for _, p := range ready {
			if !failed[p.index] {
				fail(p.index, p.id, commitErr)
			}
		}
		return
	}

	result.Saved += saved
}
