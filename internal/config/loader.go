// loader.go implements the configuration loading lifecycle for the metering
// service.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Scan environment for _SECRET_PARAM suffix variables.
//  4. If APP_ENV != "local", resolve those parameters via the SecretProvider
//     and inject the resolved values back into the environment.
//  5. Use envconfig to process struct tags and populate the Config struct.
//  6. Populate BuildInfo from linker-injected variables.
//  7. Validate the struct using go-playground/validator.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// secretParamSuffix is the environment variable suffix used to identify secret
// store pointer variables. For example, DATABASE_URL_SECRET_PARAM points to
// the secret path for the DATABASE_URL value.
const secretParamSuffix = "_SECRET_PARAM"

// localEnv is the APP_ENV value that bypasses secret store resolution.
const localEnv = "local"

// envLookup matches the signature of os.LookupEnv and allows injection for testing.
type envLookup func(key string) (string, bool)

// envSet matches the signature of os.Setenv and allows injection for testing.
type envSet func(key, value string) error

// environ matches the signature of os.Environ and allows injection for testing.
type environ func() []string

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without mutating global state.
type loaderDeps struct {
	lookupEnv envLookup
	setEnv    envSet
	environ   environ
}

// defaultDeps returns the standard OS-backed dependencies.
func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the service configuration.
//
// The provider parameter is the SecretProvider used to resolve _SECRET_PARAM
// pointers. For local development the provider may be nil (resolution is
// skipped when APP_ENV=local).
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

// loadConfigWithDeps is the internal implementation of LoadConfig that accepts
// injectable dependencies for testing.
func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	// Step 1: Enforce UTC timezone to prevent drift bugs.
	time.Local = time.UTC

	// Step 2: Load .env file (non-fatal if absent). godotenv does NOT
	// override existing environment variables.
	_ = godotenv.Load()

	// Step 3: Determine the environment.
	appEnv, _ := deps.lookupEnv("APP_ENV")

	// Step 4: Scan for _SECRET_PARAM variables and resolve if non-local.
	if appEnv != localEnv {
		if err := resolveSecretParams(provider, deps); err != nil {
			return nil, err
		}
	}

	// Step 5: Process envconfig tags to populate the Config struct.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 6: Populate build metadata from linker-injected variables.
	cfg.Build = NewBuildInfo()

	// Step 7: Validate the populated struct.
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// resolveSecretParams scans the environment for variables ending in
// _SECRET_PARAM, fetches the corresponding secret values via the
// SecretProvider, and injects them back into the environment so that
// envconfig can process them.
//
// For example, if DATABASE_URL_SECRET_PARAM=/prod/leadninja/database/url is
// set, this function will:
//  1. Extract the secret path: /prod/leadninja/database/url
//  2. Derive the target env var name: DATABASE_URL
//  3. Use the provider to fetch the secret value
//  4. Set DATABASE_URL=<resolved value> in the environment
//
// If the target variable is already set in the environment (via direct env var
// or .env file), resolution is skipped for that variable. This respects the
// priority chain: OS Environment > Dotenv > Secret Store.
func resolveSecretParams(provider SecretProvider, deps loaderDeps) error {
	type secretBinding struct {
		targetEnvVar string // e.g., DATABASE_URL
		secretPath   string // e.g., /prod/leadninja/database/url
	}

	var bindings []secretBinding
	pathToTarget := make(map[string]string)

	for _, envEntry := range deps.environ() {
		// Each entry is "KEY=VALUE"
		eqIdx := strings.IndexByte(envEntry, '=')
		if eqIdx < 0 {
			continue
		}
		key := envEntry[:eqIdx]

		if !strings.HasSuffix(key, secretParamSuffix) {
			continue
		}

		targetEnvVar := strings.TrimSuffix(key, secretParamSuffix)

		// Skip if the target variable is already set (priority: Env > Secret Store).
		if _, exists := deps.lookupEnv(targetEnvVar); exists {
			continue
		}

		secretPath := envEntry[eqIdx+1:]
		if secretPath == "" {
			continue
		}

		bindings = append(bindings, secretBinding{
			targetEnvVar: targetEnvVar,
			secretPath:   secretPath,
		})
		pathToTarget[secretPath] = targetEnvVar
	}

	if len(bindings) == 0 {
		return nil
	}

	// A provider is required if there are secret parameters to resolve.
	if provider == nil {
		targetVars := make([]string, 0, len(bindings))
		for _, b := range bindings {
			targetVars = append(targetVars, b.targetEnvVar)
		}
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targetVars, ", ")),
		}
	}

	secretPaths := make([]string, 0, len(bindings))
	for _, b := range bindings {
		secretPaths = append(secretPaths, b.secretPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, secretPaths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("failed to resolve %d secret parameters", len(secretPaths)),
			Err:     err,
		}
	}

	for secretPath, value := range resolved {
		targetEnvVar, ok := pathToTarget[secretPath]
		if !ok {
			continue
		}
		if err := deps.setEnv(targetEnvVar, value); err != nil {
			return &ConfigError{
				Type:    ErrSecretResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", targetEnvVar),
				Err:     err,
			}
		}
	}

	// Check for any secret paths that were not resolved.
	var missing []string
	for _, b := range bindings {
		if _, ok := resolved[b.secretPath]; !ok {
			missing = append(missing, b.targetEnvVar)
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("secret parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}

	return nil
}
