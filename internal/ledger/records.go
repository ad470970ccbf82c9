package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/hotpatch/internal/ir"
)

// PatchRecord is one row of the patches table.
type PatchRecord struct {
	ID          string
	Seq         uint64
	Lib         string
	Fingerprint string
	Status      string
	Updated     int
	Switched    []string
	Error       string
}

// MigrationRecord is one row of the migrations table.
type MigrationRecord struct {
	Tick         uint64
	RecordKey    string
	OldSignature string
	NewSignature string
	OldType      string
	NewType      string
	Migrated     int
	Defaulted    int
	Error        string
}

// WritePatch inserts a patch row. Uses ON CONFLICT(id) DO NOTHING: recording
// the same patch id twice is silently ignored.
func (s *Store) WritePatch(ctx context.Context, p PatchRecord) error {
	arr := make(ir.Array, len(p.Switched))
	for i, id := range p.Switched {
		arr[i] = ir.String(id)
	}
	switched, err := ir.MarshalCanonical(arr)
	if err != nil {
		return fmt.Errorf("write patch: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patches (id, seq, lib, fingerprint, status, updated, switched, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, p.ID, p.Seq, p.Lib, p.Fingerprint, p.Status, p.Updated, string(switched), p.Error)
	if err != nil {
		return fmt.Errorf("write patch: %w", err)
	}
	return nil
}

// WriteMigration inserts a migration row.
func (s *Store) WriteMigration(ctx context.Context, m MigrationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO migrations
		(tick, record_key, old_signature, new_signature, old_type, new_type, migrated, defaulted, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.Tick, m.RecordKey, m.OldSignature, m.NewSignature, m.OldType, m.NewType, m.Migrated, m.Defaulted, m.Error)
	if err != nil {
		return fmt.Errorf("write migration: %w", err)
	}
	return nil
}

// ReadPatches returns every patch row in insertion order, optionally limited
// to the last limit rows (limit <= 0 means all).
func (s *Store) ReadPatches(ctx context.Context, limit int) ([]PatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, lib, fingerprint, status, updated, switched, error
		FROM (
			SELECT * FROM patches
			ORDER BY entry_id DESC
			LIMIT CASE WHEN ? > 0 THEN ? ELSE -1 END
		)
		ORDER BY entry_id ASC
	`, limit, limit)
	if err != nil {
		return nil, fmt.Errorf("query patches: %w", err)
	}
	defer rows.Close()

	patches := []PatchRecord{}
	for rows.Next() {
		var p PatchRecord
		var switched string
		if err := rows.Scan(&p.ID, &p.Seq, &p.Lib, &p.Fingerprint, &p.Status, &p.Updated, &switched, &p.Error); err != nil {
			return nil, fmt.Errorf("scan patch: %w", err)
		}
		if err := json.Unmarshal([]byte(switched), &p.Switched); err != nil {
			return nil, fmt.Errorf("decode switched of patch %s: %w", p.ID, err)
		}
		patches = append(patches, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patches: %w", err)
	}
	return patches, nil
}

// ReadMigrations returns migration rows ordered by tick then insertion. An
// empty recordKey returns every record.
func (s *Store) ReadMigrations(ctx context.Context, recordKey string) ([]MigrationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tick, record_key, old_signature, new_signature, old_type, new_type, migrated, defaulted, error
		FROM migrations
		WHERE ? = '' OR record_key = ?
		ORDER BY tick ASC, id ASC
	`, recordKey, recordKey)
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()

	migrations := []MigrationRecord{}
	for rows.Next() {
		var m MigrationRecord
		if err := rows.Scan(&m.Tick, &m.RecordKey, &m.OldSignature, &m.NewSignature,
			&m.OldType, &m.NewType, &m.Migrated, &m.Defaulted, &m.Error); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		migrations = append(migrations, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migrations: %w", err)
	}
	return migrations, nil
}

// CountByFingerprint returns how many times a jump table with fingerprint fp
// was recorded.
func (s *Store) CountByFingerprint(ctx context.Context, fp string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patches WHERE fingerprint = ?`, fp).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patches: %w", err)
	}
	return n, nil
}
