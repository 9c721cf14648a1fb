// Package auth resolves account API tokens to actors. Tokens are opaque
// bearer credentials: the raw value is handed out once at creation, and only
// its SHA-256 hash is stored, so lookup happens by hash and a database leak
// does not leak usable credentials.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"leadninja/internal/types"
)

// tokenPrefix makes account tokens recognizable in logs and support tickets
// without revealing anything about their contents.
const tokenPrefix = "lnk_"

// TokenRepo defines the data access methods needed by the TokenService.
type TokenRepo interface {
	GetByHash(ctx context.Context, tokenHash string) (*types.AccountToken, error)
	Create(ctx context.Context, tok *types.AccountToken) error
	TouchLastUsed(ctx context.Context, tokenID string) error
	Revoke(ctx context.Context, tokenID string) error
}

// HashToken produces a hex-encoded SHA-256 hash of a raw token string. The
// hash must be deterministic so it can be used as a database lookup key,
// which rules out salted schemes like bcrypt for this purpose.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// GenerateToken mints a new raw account token: "lnk_" + 32 random hex bytes.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate account token: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(b), nil
}

// TokenService implements core.Authenticator for account bearer tokens.
type TokenService struct {
	repo   TokenRepo
	logger *slog.Logger
	now    func() time.Time
}

// NewTokenService creates a TokenService backed by the given repository.
func NewTokenService(repo TokenRepo, logger *slog.Logger) *TokenService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ResolveToken validates a raw bearer token and returns the account actor it
// represents. Expired and revoked tokens resolve to the same error as unknown
// ones so a caller cannot probe which credentials once existed.
func (s *TokenService) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	if token == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication token required", nil)
	}

	rec, err := s.repo.GetByHash(ctx, HashToken(token))
	if err != nil {
		return nil, err
	}

	now := s.now()
	if rec.RevokedAt != nil {
		s.logger.WarnContext(ctx, "revoked token presented",
			"token_id", rec.ID,
			"account_id", rec.AccountID,
		)
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown token", nil)
	}
	if rec.ExpiresAt != nil && now.After(*rec.ExpiresAt) {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown token", nil)
	}

	// Best effort; authentication does not depend on the bookkeeping write.
	if err := s.repo.TouchLastUsed(ctx, rec.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to update token last_used_at",
			"token_id", rec.ID,
			"error", err,
		)
	}

	return &types.Actor{
		ID:        rec.ID,
		Type:      types.ActorTypeAccount,
		AccountID: rec.AccountID,
	}, nil
}

// IssueToken creates a token for an account and returns the record plus the
// raw credential. The raw value is not stored and cannot be recovered later.
func (s *TokenService) IssueToken(ctx context.Context, accountID, name string, expiresAt *time.Time) (*types.AccountToken, string, error) {
	raw, err := GenerateToken()
	if err != nil {
		return nil, "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate token", err)
	}

	tok := &types.AccountToken{
		ID:        uuid.New().String(),
		AccountID: accountID,
		TokenHash: HashToken(raw),
		Name:      name,
		ExpiresAt: expiresAt,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, tok); err != nil {
		return nil, "", err
	}

	s.logger.InfoContext(ctx, "account token issued",
		"token_id", tok.ID,
		"account_id", accountID,
	)
	return tok, raw, nil
}

// RevokeToken invalidates a token. Takes effect on the next request.
func (s *TokenService) RevokeToken(ctx context.Context, tokenID string) error {
	if err := s.repo.Revoke(ctx, tokenID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "account token revoked", "token_id", tokenID)
	return nil
}
