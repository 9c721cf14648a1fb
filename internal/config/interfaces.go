package config

import "context"

// SecretProvider abstracts the retrieval of secrets so that production can use
// a managed secret store while local development resolves values straight from
// the environment. The interface enables dependency injection for testing and
// environment-specific secret resolution.
type SecretProvider interface {
	// GetParametersBatch retrieves multiple secret values at once to avoid
	// throttling. The keys slice contains the secret paths to resolve.
	// Returns a map of key -> plaintext value for all successfully resolved
	// parameters.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
