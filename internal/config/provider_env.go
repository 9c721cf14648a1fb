package config

import (
	"context"
	"os"
)

// EnvVarProvider resolves secrets straight from process environment
// variables. Local runs use it (with godotenv loading a .env file) instead
// of AWS SSM; the loader also consults it first so an env var can override a
// managed secret during debugging.
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch looks each key up with os.LookupEnv. A key that is
// unset is left out of the result rather than mapped to an empty string, so
// the loader can tell "not provided" from "provided blank". The lookup never
// fails and ignores the context; the error return exists to satisfy
// SecretProvider.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	found := make(map[string]string, len(keys))
	for _, key := range keys {
		val, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		found[key] = val
	}
	return found, nil
}
