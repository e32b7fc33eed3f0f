package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const historyKey = "history"

// SQLiteBackend stores the history document and flags in a small key-value
// table. SQLite is the production engine: it gives cross-process readers a
// consistent view without the rename dance the file backend needs.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and initializes) the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath != "" && dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL allows multiple readers and one writer simultaneously.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	// Wait instead of immediately returning SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *SQLiteBackend) set(key, value string) error {
	if value == "" {
		_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

func (s *SQLiteBackend) Load() ([]byte, error) {
	value, err := s.get(historyKey)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	return []byte(value), nil
}

func (s *SQLiteBackend) Save(data []byte) error {
	return s.set(historyKey, string(data))
}

func (s *SQLiteBackend) LoadFlag(key string) (string, error) {
	return s.get("flag:" + key)
}

func (s *SQLiteBackend) SaveFlag(key, value string) error {
	return s.set("flag:"+key, value)
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
