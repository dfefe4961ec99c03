package core

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/liliang-cn/vecmem/internal/encoding"
)

// maxLineSize bounds a single JSON line on import (large embeddings are long)
const maxLineSize = 16 << 20

// DumpStats provides statistics about the export operation
type DumpStats struct {
	Records      int   `json:"records"`
	BytesWritten int64 `json:"bytes_written"`
}

// ImportOptions defines options for data import
type ImportOptions struct {
	SkipExisting bool         // Skip records whose id is already stored
	Replace      bool         // Clear the table before importing
	Progress     ProgressFunc // Called after each imported chunk with lines read so far (total is -1, unknown)
}

// ImportStats provides statistics about the import operation
type ImportStats struct {
	Read     int       `json:"read"`
	Saved    int       `json:"saved"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Failures []Failure `json:"failures,omitempty"`
}

// String returns a one-line summary
func (s *ImportStats) String() string {
	return fmt.Sprintf("read=%d saved=%d skipped=%d failed=%d", s.Read, s.Saved, s.Skipped, s.Failed)
}

// dumpLine is the JSON Lines representation of a record
type dumpLine struct {
	ID        string         `json:"id"`
	Values    any            `json:"values"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Dump writes every record as JSON Lines
func (s *Store) Dump(ctx context.Context, w io.Writer) (*DumpStats, error) {
	release, err := s.session("dump")
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding, metadata, created_at FROM vectors ORDER BY created_at, id")
	if err != nil {
		return nil, wrapError("dump", fmt.Errorf("failed to query vectors: %w", err))
	}
	defer func() { _ = rows.Close() }()

	cw := &countingWriter{w: w}
	enc := json.NewEncoder(cw)
	stats := &DumpStats{}

	for rows.Next() {
		var (
			id        string
			metadata  sql.NullString
			blob      []byte
			createdAt any
		)
		if err := rows.Scan(&id, &blob, &metadata, &createdAt); err != nil {
			return stats, wrapError("dump", fmt.Errorf("failed to scan row: %w", err))
		}
		vector, err := encoding.DecodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping undecodable vector", "id", id, "error", err)
			continue
		}
		meta, err := encoding.DecodeMetadata(metadata.String)
		if err != nil {
			s.logger.Warn("dumping record with undecodable metadata", "id", id, "error", err)
		}
		line := dumpLine{
			ID:        id,
			Values:    vector,
			Metadata:  meta,
			CreatedAt: formatTimestamp(createdAt),
		}
		if err := enc.Encode(line); err != nil {
			return stats, wrapError("dump", fmt.Errorf("failed to write record: %w", err))
		}
		stats.Records++
	}
	if err := rows.Err(); err != nil {
		return stats, wrapError("dump", fmt.Errorf("error iterating rows: %w", err))
	}

	stats.BytesWritten = cw.n
	return stats, nil
}

// Import reads JSON Lines written by Dump and saves them in chunks of
// Config.BatchSize. Malformed lines and failed records are counted, not fatal.
func (s *Store) Import(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportStats, error) {
	if !s.IsOpen() {
		return nil, wrapError("import", ErrStoreClosed)
	}
	if opts.Replace {
		if err := s.Clear(ctx); err != nil {
			return nil, err
		}
	}

	stats := &ImportStats{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	chunk := make([]VectorRecord, 0, s.config.BatchSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		err := s.importChunk(ctx, chunk, opts, stats)
		chunk = chunk[:0]
		if opts.Progress != nil {
			opts.Progress(stats.Read, -1)
		}
		return err
	}

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.Read++

		rec, err := decodeLine(line)
		if err != nil {
			stats.Failed++
			stats.Failures = append(stats.Failures, Failure{Index: stats.Read - 1, Reason: err.Error(), Err: err})
			continue
		}
		chunk = append(chunk, rec)
		if len(chunk) == s.config.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, wrapError("import", fmt.Errorf("failed to read input: %w", err))
	}
	if err := flush(); err != nil {
		return stats, err
	}

	s.logger.Info("import finished", "stats", stats.String())
	return stats, nil
}

func (s *Store) importChunk(ctx context.Context, chunk []VectorRecord, opts ImportOptions, stats *ImportStats) error {
	records := chunk
	if opts.SkipExisting {
		ids := make([]string, len(chunk))
		for i, rec := range chunk {
			ids[i] = rec.ID
		}
		existing, err := s.CheckExisting(ctx, ids, nil)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			skip := make(map[string]bool, len(existing))
			for _, id := range existing {
				skip[id] = true
			}
			records = make([]VectorRecord, 0, len(chunk))
			for _, rec := range chunk {
				if skip[rec.ID] {
					stats.Skipped++
					continue
				}
				records = append(records, rec)
			}
		}
	}
	if len(records) == 0 {
		return nil
	}

	result, err := s.Save(ctx, records)
	if err != nil {
		return err
	}
	stats.Saved += result.Saved
	stats.Failed += len(result.Failures)
	stats.Failures = append(stats.Failures, result.Failures...)
	return nil
}

// decodeLine parses one JSON line. Values go through SanitizeValue so that
// nulls and out-of-range numbers are repaired rather than rejected.
func decodeLine(line []byte) (VectorRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var raw dumpLine
	if err := dec.Decode(&raw); err != nil {
		return VectorRecord{}, fmt.Errorf("malformed line: %w", err)
	}
	values, _, err := SanitizeValue(raw.Values)
	if err != nil {
		return VectorRecord{ID: raw.ID}, err
	}
	return VectorRecord{ID: raw.ID, Embedding: values, Metadata: raw.Metadata}, nil
}

// DumpToFile exports data to a file
func (s *Store) DumpToFile(ctx context.Context, path string) (*DumpStats, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, wrapError("dump", fmt.Errorf("failed to create file: %w", err))
	}
	defer func() { _ = file.Close() }()

	w := bufio.NewWriter(file)
	stats, err := s.Dump(ctx, w)
	if err != nil {
		return stats, err
	}
	if err := w.Flush(); err != nil {
		return stats, wrapError("dump", fmt.Errorf("failed to flush file: %w", err))
	}
	return stats, nil
}

// ImportFromFile imports data from a file written by DumpToFile
func (s *Store) ImportFromFile(ctx context.Context, path string, opts ImportOptions) (*ImportStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, wrapError("import", fmt.Errorf("failed to open file: %w", err))
	}
	defer func() { _ = file.Close() }()

	return s.Import(ctx, file, opts)
}

// Backup writes a consistent copy of the store file to path
func (s *Store) Backup(ctx context.Context, path string) error {
	release, err := s.session("backup")
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return wrapError("backup", fmt.Errorf("failed to back up store: %w", err))
	}
	return nil
}

func formatTimestamp(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}
