package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	*sqlRepository
}

// NewSQLiteRepository opens (creating if needed) the database at path.
// ":memory:" is accepted for tests.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo, err := newSQLRepository(db, false)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteRepository{repo}, nil
}
