package core

import (
	"context"

	"leadninja/internal/types"
)

// Authenticator decouples the HTTP layer from the account token store,
// allowing for easy mocking in tests.
type Authenticator interface {
	// ResolveToken resolves an account bearer token to its Actor.
	//
	// Distinct error codes:
	//   - ErrCodeAuthTokenInvalid if the token is malformed, not found,
	//     revoked, or expired.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}
