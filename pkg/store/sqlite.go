package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists collections in a single SQLite file. Rows are kept
// as JSON field maps in a generic records table so collections can gain
// fields without schema migrations, mirroring how a sheet grows columns.
type SQLiteStore struct {
	db *sql.DB
	*CollectionLocks
}

// NewSQLiteStore opens (creating if needed) the store at the given path.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, CollectionLocks: NewCollectionLocks()}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		fields TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		seq INTEGER NOT NULL,
		fields TEXT NOT NULL,
		PRIMARY KEY (collection, key)
	);
	CREATE INDEX IF NOT EXISTS idx_records_seq ON records(collection, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// EnsureCollection registers the collection and merges any new required
// fields into its field list. Existing fields are never removed.
func (s *SQLiteStore) EnsureCollection(collection string, requiredFields []string) error {
	existing, err := s.collectionFields(collection)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(existing))
	merged := make([]string, 0, len(existing)+len(requiredFields))
	for _, f := range existing {
		seen[f] = true
		merged = append(merged, f)
	}
	for _, f := range requiredFields {
		if !seen[f] {
			seen[f] = true
			merged = append(merged, f)
		}
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode field list: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO collections (name, fields) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET fields = excluded.fields`,
		collection, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to ensure collection %s: %w", collection, err)
	}
	return nil
}

func (s *SQLiteStore) collectionFields(collection string) ([]string, error) {
	var raw string
	err := s.db.QueryRow(`SELECT fields FROM collections WHERE name = ?`, collection).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", collection, err)
	}
	var fields []string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("corrupt field list for %s: %w", collection, err)
	}
	return fields, nil
}

// ListRecords returns the collection's rows in insertion order. Fields
// the collection requires but a row predates materialize as "".
func (s *SQLiteStore) ListRecords(collection string) ([]Record, error) {
	required, err := s.collectionFields(collection)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT key, fields FROM records WHERE collection = ? ORDER BY seq ASC`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}
		fields := make(map[string]string)
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, fmt.Errorf("corrupt record %s/%s: %w", collection, key, err)
		}
		for _, f := range required {
			if _, ok := fields[f]; !ok {
				fields[f] = ""
			}
		}
		out = append(out, Record{Key: key, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during %s iteration: %w", collection, err)
	}
	return out, nil
}

// UpsertRecord writes the row, keeping its original position when the key
// already exists.
func (s *SQLiteStore) UpsertRecord(collection, key string, fields map[string]string) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode record %s/%s: %w", collection, key, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow(
		`SELECT seq FROM records WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		if err := tx.QueryRow(
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM records WHERE collection = ?`,
			collection,
		).Scan(&seq); err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to look up record %s/%s: %w", collection, key, err)
	}

	if _, err := tx.Exec(
		`INSERT INTO records (collection, key, seq, fields) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET fields = excluded.fields`,
		collection, key, seq, string(raw),
	); err != nil {
		return fmt.Errorf("failed to upsert record %s/%s: %w", collection, key, err)
	}
	return tx.Commit()
}

// DeleteRecord removes the row. Deleting a missing key is not an error.
func (s *SQLiteStore) DeleteRecord(collection, key string) error {
	_, err := s.db.Exec(`DELETE FROM records WHERE collection = ? AND key = ?`, collection, key)
	if err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", collection, key, err)
	}
	return nil
}

// Flush is a no-op: SQLite writes are visible to subsequent reads as soon
// as Exec returns.
func (s *SQLiteStore) Flush() error { return nil }

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }
