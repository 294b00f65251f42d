// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC as the process timezone; the digest timezone is explicit.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Apply the legacy VERCEL_URL fallback for the site host.
//  5. Populate BuildInfo from linker-injected variables.
//  6. Validate the struct using go-playground/validator.
//  7. Verify the digest timezone can be loaded.
package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata" // Lambda and distroless images ship without zoneinfo

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

// legacyHostVar is the hosting platform's deployment host variable, honored
// when SITE_HOST is unset.
const legacyHostVar = "VERCEL_URL"

// envLookup is a function type for looking up environment variables.
// It matches the signature of os.LookupEnv and allows injection for testing.
type envLookup func(key string) (string, bool)

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without touching the working directory.
type loaderDeps struct {
	lookupEnv  envLookup
	loadDotenv func() error
}

// defaultDeps returns the standard OS-backed dependencies.
func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		loadDotenv: func() error {
			return godotenv.Load()
		},
	}
}

// LoadConfig loads and validates the service configuration.
func LoadConfig() (*Config, error) {
	return loadConfigWithDeps(defaultDeps())
}

// loadConfigWithDeps is the internal implementation of LoadConfig that accepts
// injectable dependencies for testing.
func loadConfigWithDeps(deps loaderDeps) (*Config, error) {
	// Step 1: Enforce UTC timezone to prevent drift bugs.
	time.Local = time.UTC

	// Step 2: Load .env file (non-fatal if absent). It does NOT override
	// existing environment variables.
	_ = deps.loadDotenv()

	// Step 3: Process envconfig tags. The empty prefix "" means envconfig
	// falls back to the exact tag values (e.g., envconfig:"PORT" reads PORT).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 4: Legacy host fallback.
	if cfg.Digest.SiteHost == "" {
		if host, ok := deps.lookupEnv(legacyHostVar); ok {
			cfg.Digest.SiteHost = host
		}
	}

	// Step 5: Populate build metadata from linker-injected variables.
	cfg.Build = NewBuildInfo()

	// Step 6: Validate the populated struct.
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	// Step 7: The timezone must exist in the tz database.
	if _, err := cfg.Digest.Location(); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("unknown DIGEST_TIMEZONE %q", cfg.Digest.Timezone),
			Err:     err,
		}
	}

	return &cfg, nil
}
