package ledger

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// schemaSteps upgrades a ledger one user_version at a time: step i moves a
// ledger at version i to i+1. schema.sql always describes the latest tables,
// so steps only patch ledgers created by older builds.
var schemaSteps = []string{
	// 1: lookups by jump-table fingerprint (re-delivered patches).
	`CREATE INDEX IF NOT EXISTS idx_patches_fingerprint ON patches(fingerprint)`,
}

var currentSchemaVersion = len(schemaSteps)

var ledgerPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// Store is the SQLite patch ledger.
type Store struct {
	db *sql.DB
}

// Open creates or opens a ledger at path (":memory:" for tests). The ledger
// runs in WAL mode with a 5s busy timeout and is upgraded to the current
// schema before Open returns.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// The tick loop never writes here directly; the Writer is the only
	// writer, and ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := prepare(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func prepare(db *sql.DB) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to ledger: %w", err)
	}
	for _, p := range ledgerPragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return upgrade(db)
}

// upgrade runs every schema step above the ledger's user_version.
func upgrade(db *sql.DB) error {
	version, err := userVersion(db)
	if err != nil {
		return err
	}
	for v := version; v < currentSchemaVersion; v++ {
		if _, err := db.Exec(schemaSteps[v]); err != nil {
			return fmt.Errorf("upgrade ledger to v%d: %w", v+1, err)
		}
	}
	if version != currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

func userVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}
