package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/agrimarket/internal/domain/auth"
)

const findAPIKeySQL = `SELECT id, user_id, key_hash, name FROM api_keys WHERE key_hash = $1 AND active`

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository returns an APIKeyRepository.
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
// Returns an error wrapping pgx.ErrNoRows when no matching key exists.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var k auth.APIKeyInfo
	err := r.db.q(ctx).QueryRow(ctx, findAPIKeySQL, hash).Scan(&k.ID, &k.UserID, &k.KeyHash, &k.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("api key not found: %w", err)
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &k, nil
}

const upsertAPIKeySQL = `INSERT INTO api_keys (id, user_id, key_hash, name, active)
	VALUES ($1, $2, $3, $4, TRUE)
	ON CONFLICT (id) DO UPDATE SET
		user_id = EXCLUDED.user_id,
		key_hash = EXCLUDED.key_hash,
		name = EXCLUDED.name,
		active = TRUE`

// Upsert stores an API key by its hash.
func (r *APIKeyRepository) Upsert(ctx context.Context, k auth.APIKeyInfo) error {
	if _, err := r.db.q(ctx).Exec(ctx, upsertAPIKeySQL, k.ID, k.UserID, k.KeyHash, k.Name); err != nil {
		return fmt.Errorf("upserting api key %q: %w", k.ID, err)
	}
	return nil
}
