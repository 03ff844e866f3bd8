package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS summary_cache (
	fingerprint BYTEA PRIMARY KEY,
	value       BYTEA NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore shares the cache between service instances.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with the pgx driver and creates the table.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create summary_cache: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key Fingerprint) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM summary_cache WHERE fingerprint = $1`, key[:],
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query summary_cache: %w", err)
	}
	return value, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key Fingerprint, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO summary_cache (fingerprint, value) VALUES ($1, $2) ON CONFLICT (fingerprint) DO NOTHING`,
		key[:], value,
	)
	if err != nil {
		return fmt.Errorf("insert summary_cache: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
