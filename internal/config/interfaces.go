package config

import "context"

// SecretProvider abstracts the retrieval of secrets so that SSM (deployed
// environments) and plain environment variables (local) are interchangeable.
type SecretProvider interface {
	// GetParametersBatch resolves several parameter paths at once and returns
	// path -> plaintext for every parameter it found.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
