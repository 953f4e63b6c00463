package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a booking is not present in the local cache.
var ErrNotFound = errors.New("booking not found")

// Store is the durable per-user local state: the booking cache mirror and
// the sync queue. Both live in one sqlite file so offline reads and queue
// writes survive restarts.
type Store struct {
	db   *sql.DB
	path string
}

func NewStore(path string) (*Store, error) {
	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	return &Store{db: db, path: path}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Локальный кэш бронирований
		`CREATE TABLE IF NOT EXISTS booking_cache (
            user_id TEXT NOT NULL,
            booking_id TEXT NOT NULL DEFAULT '',
            local_key TEXT NOT NULL DEFAULT '',
            payload TEXT NOT NULL,
            position INTEGER NOT NULL DEFAULT 0,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		// Очередь несинхронизированных изменений
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id TEXT NOT NULL,
            tbl TEXT NOT NULL,
            action TEXT NOT NULL,
            booking_id TEXT NOT NULL DEFAULT '',
            local_key TEXT NOT NULL DEFAULT '',
            payload TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS idx_booking_cache_user_id ON booking_cache(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_cache_booking_id ON booking_cache(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_user_id ON sync_queue(user_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}
	return nil
}

// Path returns the sqlite file location, used by the backup service.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}
