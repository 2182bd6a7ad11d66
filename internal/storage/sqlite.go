package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding durable client state: a key/value
// table, the last fetched extraction history and the batch upload journal.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "ocrdesk.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Key/value ---

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

// DeletePrefix removes every key starting with prefix and reports how many
// were removed.
func (s *Store) DeletePrefix(prefix string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM kv WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Keys lists keys starting with prefix in ascending order.
func (s *Store) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key ASC`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Extraction history snapshot ---

// ReplaceExtractions swaps the stored snapshot for rows, preserving order.
func (s *Store) ReplaceExtractions(rows []ExtractionRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM extractions`); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO extractions (id, filename, extracted_text, created_at, updated_at, is_bookmarked, source_type, ocr_model, language, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for pos, r := range rows {
		if _, err := stmt.Exec(r.ID, r.Filename, r.ExtractedText, r.CreatedAt, r.UpdatedAt,
			boolToInt(r.IsBookmarked), r.SourceType, r.OCRModel, r.Language, pos); err != nil {
			return fmt.Errorf("inserting extraction %d: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Extractions returns the stored snapshot in the order it was saved.
func (s *Store) Extractions() ([]ExtractionRow, error) {
	rows, err := s.db.Query(`
		SELECT id, filename, extracted_text, created_at, updated_at, is_bookmarked, source_type, ocr_model, language
		FROM extractions ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExtractionRow
	for rows.Next() {
		var r ExtractionRow
		var bookmarked int
		if err := rows.Scan(&r.ID, &r.Filename, &r.ExtractedText, &r.CreatedAt, &r.UpdatedAt,
			&bookmarked, &r.SourceType, &r.OCRModel, &r.Language); err != nil {
			return nil, err
		}
		r.IsBookmarked = bookmarked != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ClearExtractions() error {
	_, err := s.db.Exec(`DELETE FROM extractions`)
	return err
}

// --- Upload journal ---

func (s *Store) SaveUpload(u UploadRecord) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO uploads (id, batch_id, original_name, sanitized_name, status, extraction_id, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sanitized_name = excluded.sanitized_name,
			status = excluded.status,
			extraction_id = excluded.extraction_id,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		u.ID, u.BatchID, u.OriginalName, u.SanitizedName, u.Status, u.ExtractionID, u.Error,
		u.CreatedAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	return err
}

// RecentUploads returns up to limit journal entries, newest first.
func (s *Store) RecentUploads(limit int) ([]UploadRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, batch_id, original_name, sanitized_name, status, extraction_id, error, created_at, updated_at
		FROM uploads ORDER BY created_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UploadRecord
	for rows.Next() {
		var u UploadRecord
		var createdAt, updatedAt string
		if err := rows.Scan(&u.ID, &u.BatchID, &u.OriginalName, &u.SanitizedName, &u.Status,
			&u.ExtractionID, &u.Error, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if u.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) ClearUploads() error {
	_, err := s.db.Exec(`DELETE FROM uploads`)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
