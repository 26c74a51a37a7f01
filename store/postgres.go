package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

type PostgresRepository struct {
	*sqlRepository
}

func NewPostgresRepository(connStr string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo, err := newSQLRepository(db, true)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresRepository{repo}, nil
}

// Open picks a backend by driver name.
func Open(driver, dsn string) (Repository, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteRepository(dsn)
	case "postgres":
		return NewPostgresRepository(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
