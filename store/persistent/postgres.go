package persistent

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bifrostlabs/bifrost/model"
)

// Compile-time check to verify that PostgresDataReader implements
// SerializedDataReader.
var _ SerializedDataReader = (*PostgresDataReader)(nil)

// PostgresDataReader reads serialized flag data from PostgreSQL. It expects
// the following schema:
//
//	CREATE TABLE flag_data (
//	    kind    TEXT    NOT NULL,
//	    key     TEXT    NOT NULL,
//	    version INT     NOT NULL,
//	    deleted BOOLEAN NOT NULL DEFAULT FALSE,
//	    item    JSONB,
//	    PRIMARY KEY (kind, key)
//	);
//	CREATE TABLE flag_data_status (
//	    inited BOOLEAN NOT NULL
//	);
type PostgresDataReader struct {
	db *pgxpool.Pool
}

// NewPostgresDataReader creates a reader over the given connection pool.
func NewPostgresDataReader(db *pgxpool.Pool) *PostgresDataReader {
	if db == nil {
		panic("persistent: database pool cannot be nil")
	}
	return &PostgresDataReader{db: db}
}

// Get reads one item row.
func (r *PostgresDataReader) Get(ctx context.Context, kind model.DataKind, key string) (*model.SerializedItemDescriptor, error) {
	query := `
		SELECT version, deleted, COALESCE(item::text, '')
		FROM flag_data
		WHERE kind = $1 AND key = $2
	`

	var item model.SerializedItemDescriptor
	err := r.db.QueryRow(ctx, query, string(kind), key).Scan(
		&item.Version,
		&item.Deleted,
		&item.SerializedItem,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %q from postgres: %w", kind, key, err)
	}
	return &item, nil
}

// All reads every row of the kind.
func (r *PostgresDataReader) All(ctx context.Context, kind model.DataKind) (map[string]model.SerializedItemDescriptor, error) {
	query := `
		SELECT key, version, deleted, COALESCE(item::text, '')
		FROM flag_data
		WHERE kind = $1
	`

	rows, err := r.db.Query(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s from postgres: %w", kind, err)
	}
	defer rows.Close()

	items := make(map[string]model.SerializedItemDescriptor)
	for rows.Next() {
		var key string
		var item model.SerializedItemDescriptor
		if err := rows.Scan(&key, &item.Version, &item.Deleted, &item.SerializedItem); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", kind, err)
		}
		items[key] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed for %s: %w", kind, err)
	}
	return items, nil
}

// Identity describes this reader for logs and health output.
func (r *PostgresDataReader) Identity() string {
	return "postgres"
}

// Initialized checks the status row written after the first complete
// dataset.
func (r *PostgresDataReader) Initialized(ctx context.Context) bool {
	var inited bool
	err := r.db.QueryRow(ctx, `SELECT inited FROM flag_data_status LIMIT 1`).Scan(&inited)
	return err == nil && inited
}

// Ping verifies the database connection.
func (r *PostgresDataReader) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close releases the connection pool.
func (r *PostgresDataReader) Close() error {
	r.db.Close()
	return nil
}
