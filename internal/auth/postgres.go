package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore implements KeyStore on PostgreSQL so replicas share one
// key set.
type PostgresStore struct {
	db *sql.DB
}

var _ KeyStore = (*PostgresStore)(nil)

const keySchema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id                  TEXT PRIMARY KEY,
	key_hash            TEXT NOT NULL UNIQUE,
	key_prefix          TEXT NOT NULL,
	user_id             TEXT NOT NULL,
	name                TEXT NOT NULL,
	permissions         TEXT NOT NULL DEFAULT '[]',
	allowed_models      TEXT,
	rate_limit_per_hour INTEGER,
	budget_usd_per_day  DOUBLE PRECISION,
	created_at          TIMESTAMPTZ NOT NULL,
	last_used           TIMESTAMPTZ,
	revoked             BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_api_keys_user_id ON api_keys (user_id);
`

// NewPostgresStore opens the database, verifies connectivity, and makes
// sure the key table exists.
func NewPostgresStore(dsn string, maxOpen, maxIdle int, connLifetime time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if connLifetime > 0 {
		db.SetConnMaxLifetime(connLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, keySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure api_keys schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

const keyColumns = `id, key_hash, key_prefix, user_id, name, permissions,
	allowed_models, rate_limit_per_hour, budget_usd_per_day,
	created_at, last_used, revoked`

// GetByHash returns the key with the given hash, or nil.
func (s *PostgresStore) GetByHash(ctx context.Context, hash string) (*APIKeyInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1`, hash)
	return scanKey(row)
}

// GetByID returns the key with the given ID, or nil.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*APIKeyInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id)
	return scanKey(row)
}

// Create stores a new key.
func (s *PostgresStore) Create(ctx context.Context, key *APIKeyInfo) error {
	permissions, err := json.Marshal(key.Permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}

	var allowedModels any
	if key.AllowedModels != nil {
		encoded, err := json.Marshal(key.AllowedModels)
		if err != nil {
			return fmt.Errorf("encode allowed_models: %w", err)
		}
		allowedModels = string(encoded)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, key_hash, key_prefix, user_id, name,
		                      permissions, allowed_models, rate_limit_per_hour,
		                      budget_usd_per_day, created_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.UserID, key.Name,
		string(permissions), allowedModels, key.RateLimitPerHour,
		key.BudgetUSDPerDay, key.CreatedAt, key.Revoked,
	)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// List returns all keys, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]*APIKeyInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKeyInfo
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Revoke marks the key revoked.
func (s *PostgresStore) Revoke(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return nil
}

// TouchLastUsed records when the key last authenticated a request.
func (s *PostgresStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used = $1 WHERE id = $2`, at, id)
	return err
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanKey(row scanner) (*APIKeyInfo, error) {
	var (
		key           APIKeyInfo
		permissions   string
		allowedModels sql.NullString
		rateLimit     sql.NullInt64
		budgetUSD     sql.NullFloat64
		lastUsed      sql.NullTime
	)

	err := row.Scan(
		&key.ID, &key.KeyHash, &key.KeyPrefix, &key.UserID, &key.Name,
		&permissions, &allowedModels, &rateLimit, &budgetUSD,
		&key.CreatedAt, &lastUsed, &key.Revoked,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}

	if permissions != "" {
		if err := json.Unmarshal([]byte(permissions), &key.Permissions); err != nil {
			return nil, fmt.Errorf("parse permissions: %w", err)
		}
	}
	if allowedModels.Valid && allowedModels.String != "" {
		if err := json.Unmarshal([]byte(allowedModels.String), &key.AllowedModels); err != nil {
			return nil, fmt.Errorf("parse allowed_models: %w", err)
		}
	}
	if rateLimit.Valid {
		v := int(rateLimit.Int64)
		key.RateLimitPerHour = &v
	}
	if budgetUSD.Valid {
		v := budgetUSD.Float64
		key.BudgetUSDPerDay = &v
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		key.LastUsed = &t
	}

	return &key, nil
}
