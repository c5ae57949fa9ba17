package metacache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/wheelhouse/wheelhouse/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS wheel_metadata (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Postgres persists extracted metadata across restarts. Several server
// instances may share one database; Put is a no-op upsert so concurrent
// extractions of the same wheel do not conflict.
type Postgres struct {
	db *sql.DB
}

// NewPostgres connects to the database and creates the metadata table if it
// does not exist yet.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}

	logging.Info("metadata cache connected to database")
	return &Postgres{db: db}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM wheel_metadata WHERE key = $1`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query metadata cache: %w", err)
	}
	return value, true, nil
}

func (p *Postgres) Put(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO wheel_metadata (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO NOTHING`, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to store metadata: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
