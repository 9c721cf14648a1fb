package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"leadninja/internal/types"
)

// AccountTokenRepo provides access to the account_tokens table, the credential
// store backing bearer-token authentication on the account-facing endpoints.
type AccountTokenRepo struct {
	db DBTX
}

// NewAccountTokenRepo creates a new AccountTokenRepo backed by the given
// database connection (pool or transaction).
func NewAccountTokenRepo(db DBTX) *AccountTokenRepo {
	return &AccountTokenRepo{db: db}
}

const tokenColumns = `id, account_id, token_hash, name, last_used_at, expires_at, revoked_at, created_at`

// GetByHash returns the token record whose stored hash matches. Lookup is by
// hash so the raw credential never reaches the database.
func (r *AccountTokenRepo) GetByHash(ctx context.Context, tokenHash string) (*types.AccountToken, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM account_tokens WHERE token_hash = $1`,
		tokenHash,
	)
	return scanAccountToken(row)
}

// Create inserts a new token record.
func (r *AccountTokenRepo) Create(ctx context.Context, tok *types.AccountToken) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO account_tokens (id, account_id, token_hash, name, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tok.ID, tok.AccountID, tok.TokenHash, tok.Name, tok.ExpiresAt, tok.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create account token", err)
	}
	return nil
}

// TouchLastUsed updates the token's last_used_at timestamp. Best effort: the
// caller treats a failure here as non-fatal.
func (r *AccountTokenRepo) TouchLastUsed(ctx context.Context, tokenID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE account_tokens SET last_used_at = now() WHERE id = $1`,
		tokenID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to touch account token", err)
	}
	return nil
}

// Revoke marks a token as revoked. Revocation takes effect on the next
// request; there is no session state to invalidate.
func (r *AccountTokenRepo) Revoke(ctx context.Context, tokenID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE account_tokens SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`,
		tokenID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke account token", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeAuthTokenInvalid, "token not found or already revoked", nil)
	}
	return nil
}

func scanAccountToken(row pgx.Row) (*types.AccountToken, error) {
	var t types.AccountToken
	err := row.Scan(
		&t.ID,
		&t.AccountID,
		&t.TokenHash,
		&t.Name,
		&t.LastUsedAt,
		&t.ExpiresAt,
		&t.RevokedAt,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown token", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load account token", err)
	}
	return &t, nil
}
