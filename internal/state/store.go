// Package state persists the repository contents and the explorer view
// state between invocations in a local SQLite database.
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"codemodctl/internal/change"
	"codemodctl/internal/explorer"
	"codemodctl/internal/logger"
	"codemodctl/internal/repository"
	"codemodctl/internal/util"
)

const schema = `
CREATE TABLE IF NOT EXISTS state (
	field TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Persisted fields. Each is stored and decoded independently.
const (
	FieldCases           = "cases"
	FieldJobs            = "jobs"
	FieldCaseJobKeys     = "caseJobKeys"
	FieldExecutionErrors = "executionErrors"
	FieldViews           = "views"
)

// Snapshot is everything that survives a restart.
type Snapshot struct {
	Repository repository.Snapshot
	Views      map[change.CaseHash]*explorer.View
}

// Report describes what Load had to give up on.
type Report struct {
	// Fallbacks lists fields replaced by their default.
	Fallbacks []string
	// Skipped counts entries dropped inside otherwise readable fields.
	Skipped int
}

// Store is the SQLite-backed snapshot store.
type Store struct {
	db  *sql.DB
	log *logger.Logger
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens or creates the store at {dir}/state.db.
func Open(dir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Store{db: db, log: log.With("component", "state"), enc: enc, dec: dec}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.dec.Close()
	s.enc.Close()
	return s.db.Close()
}

// Save replaces the stored snapshot.
func (s *Store) Save(snap Snapshot) error {
	fields := map[string]any{
		FieldCases:           snap.Repository.Cases,
		FieldJobs:            snap.Repository.Jobs,
		FieldCaseJobKeys:     snap.Repository.CaseJobKeys,
		FieldExecutionErrors: snap.Repository.ExecutionErrors,
		FieldViews:           snap.Views,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := util.NowMs()
	for field, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", field, err)
		}
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO state (field, data, updated_at) VALUES (?, ?, ?)`,
			field, s.enc.EncodeAll(raw, nil), now,
		)
		if err != nil {
			return fmt.Errorf("storing %s: %w", field, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Load reads the stored snapshot. A field that is missing, cannot be
// decompressed or does not decode becomes its default; individual entries
// that fail to decode are skipped.
func (s *Store) Load() (Snapshot, Report, error) {
	snap := Snapshot{
		Repository: repository.Snapshot{
			Cases:           map[change.CaseHash]change.Case{},
			Jobs:            map[change.JobHash]change.Job{},
			ExecutionErrors: map[change.CaseHash][]change.ExecutionError{},
		},
		Views: map[change.CaseHash]*explorer.View{},
	}
	var report Report

	rows, err := s.db.Query(`SELECT field, data FROM state`)
	if err != nil {
		return snap, report, fmt.Errorf("querying state: %w", err)
	}
	defer rows.Close()

	stored := make(map[string][]byte)
	for rows.Next() {
		var field string
		var data []byte
		if err := rows.Scan(&field, &data); err != nil {
			return snap, report, fmt.Errorf("scanning state: %w", err)
		}
		stored[field] = data
	}
	if err := rows.Err(); err != nil {
		return snap, report, fmt.Errorf("reading state: %w", err)
	}

	decoders := []struct {
		field  string
		decode func([]byte) (int, error)
	}{
		{FieldCases, func(raw []byte) (int, error) { return decodeEntries(raw, snap.Repository.Cases) }},
		{FieldJobs, func(raw []byte) (int, error) { return decodeEntries(raw, snap.Repository.Jobs) }},
		{FieldCaseJobKeys, func(raw []byte) (int, error) {
			keys, skipped, err := decodeList[string](raw)
			snap.Repository.CaseJobKeys = keys
			return skipped, err
		}},
		{FieldExecutionErrors, func(raw []byte) (int, error) { return decodeEntries(raw, snap.Repository.ExecutionErrors) }},
		{FieldViews, func(raw []byte) (int, error) { return decodeEntries(raw, snap.Views) }},
	}

	for _, d := range decoders {
		data, ok := stored[d.field]
		if !ok {
			continue
		}
		raw, err := s.dec.DecodeAll(data, nil)
		if err == nil {
			var skipped int
			skipped, err = d.decode(raw)
			report.Skipped += skipped
		}
		if err != nil {
			s.log.Warn("persisted field replaced by default", "field", d.field, "error", err)
			report.Fallbacks = append(report.Fallbacks, d.field)
		}
	}
	return snap, report, nil
}

// Clear removes the stored snapshot.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM state`); err != nil {
		return fmt.Errorf("clearing state: %w", err)
	}
	return nil
}

var errNotObject = errors.New("field is not a JSON object")

// decodeEntries fills into from a JSON object, skipping entries whose value
// does not decode. On a field-level failure into is left empty.
func decodeEntries[K ~string, V any](raw []byte, into map[K]V) (int, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0, fmt.Errorf("%w: %v", errNotObject, err)
	}
	skipped := 0
	for k, v := range entries {
		var value V
		if err := json.Unmarshal(v, &value); err != nil {
			skipped++
			continue
		}
		into[K(k)] = value
	}
	return skipped, nil
}

func decodeList[T any](raw []byte) ([]T, int, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0, err
	}
	out := make([]T, 0, len(items))
	skipped := 0
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			skipped++
			continue
		}
		out = append(out, v)
	}
	return out, skipped, nil
}
