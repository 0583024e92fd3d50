// api_key_repository.go implements APIKeyRepository: API key creation, lookup by ID and display
// prefix, the admin listing, the suspend/reinstate write and usage counter updates.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/missionsdata/missions-api/internal/db/models"
)

const apiKeyColumns = `id, name, email, key_hash, key_prefix, usage_description, suspended, usage_count, last_used_at, created_at`

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	k := &models.APIKey{}
	err := row.Scan(
		&k.ID,
		&k.Name,
		&k.Email,
		&k.KeyHash,
		&k.KeyPrefix,
		&k.UsageDescription,
		&k.Suspended,
		&k.UsageCount,
		&k.LastUsedAt,
		&k.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// Create inserts a new, active API key and fills in its ID and CreatedAt.
func (r *APIKeyRepository) Create(ctx context.Context, apiKey *models.APIKey) error {
	apiKey.ID = uuid.New().String()
	apiKey.CreatedAt = time.Now()

	query := `
		INSERT INTO api_keys (id, name, email, key_hash, key_prefix, usage_description, suspended, usage_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		apiKey.ID,
		apiKey.Name,
		apiKey.Email,
		apiKey.KeyHash,
		apiKey.KeyPrefix,
		apiKey.UsageDescription,
		apiKey.Suspended,
		apiKey.CreatedAt,
	)
	return err
}

// GetByID retrieves an API key by ID. It returns (nil, nil) when no key matches.
func (r *APIKeyRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`

	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return key, err
}

// GetByPrefix returns every key sharing a display prefix; the caller compares hashes to pick
// the one that matches. Prefixes are short, so collisions are possible.
func (r *APIKeyRepository) GetByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_prefix = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, prefix)
}

// List returns all API keys, newest first, for the admin view.
func (r *APIKeyRepository) List(ctx context.Context) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys ORDER BY created_at DESC`
	return r.list(ctx, query)
}

func (r *APIKeyRepository) list(ctx context.Context, query string, args ...any) ([]*models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SetSuspended writes the suspended flag of one key. The write is a single-row UPDATE, so
// repeating it with the same value is harmless and concurrent writers resolve as last write
// wins. The bool reports whether a key with that ID exists.
func (r *APIKeyRepository) SetSuspended(ctx context.Context, id string, suspended bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET suspended = $2 WHERE id = $1`, id, suspended)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddUsage adds count to a key's usage counter and moves last_used_at forward to at.
func (r *APIKeyRepository) AddUsage(ctx context.Context, id string, count int64, at time.Time) error {
	query := `
		UPDATE api_keys
		SET usage_count = usage_count + $2,
		    last_used_at = GREATEST(COALESCE(last_used_at, $3), $3)
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, count, at)
	return err
}
