package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name under which API keys are stored in the
// OS keyring.
const keyringService = "bookflow"

// Credentials holds authentication for API-based providers.
type Credentials struct {
	// APIKey is the authentication token for the provider's API.
	APIKey string

	// BaseURL is an optional override for the API endpoint.
	// If empty, the provider's default endpoint is used.
	BaseURL string
}

// Validate checks that the API key is present. Format validation is left to
// individual providers since key formats vary.
func (c Credentials) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	return nil
}

// Redacted returns a safe-to-log version with the API key masked.
func (c Credentials) Redacted() string {
	masked := maskSecret(c.APIKey)
	if c.BaseURL != "" {
		return fmt.Sprintf("APIKey: %s, BaseURL: %s", masked, c.BaseURL)
	}
	return fmt.Sprintf("APIKey: %s", masked)
}

// ResolveCredentials locates credentials for the named provider. The
// environment variable <PROVIDER>_API_KEY is checked first; if absent, the
// OS keyring entry for the provider is consulted. A missing key in both
// places is an error so that misconfiguration surfaces before the first
// LLM call rather than mid-flow.
func ResolveCredentials(provider string) (Credentials, error) {
	envKey := strings.ToUpper(provider) + "_API_KEY"
	if key := os.Getenv(envKey); key != "" {
		return Credentials{
			APIKey:  key,
			BaseURL: os.Getenv(strings.ToUpper(provider) + "_BASE_URL"),
		}, nil
	}

	key, err := keyring.Get(keyringService, provider)
	if err != nil {
		if err == keyring.ErrNotFound {
			return Credentials{}, fmt.Errorf("no API key for provider %q: set %s or store one in the system keyring", provider, envKey)
		}
		return Credentials{}, fmt.Errorf("failed to read keyring: %w", err)
	}

	return Credentials{APIKey: key}, nil
}

// StoreCredentials saves an API key for the named provider in the OS keyring.
func StoreCredentials(provider, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("API key is empty")
	}
	if err := keyring.Set(keyringService, provider, apiKey); err != nil {
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return nil
}

// maskSecret replaces all but the first and last four characters of a secret
// with asterisks. Short secrets are fully masked.
func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
