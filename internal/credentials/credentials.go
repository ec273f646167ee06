// Package credentials resolves the credentials handle carried by a collection task.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name used for tokens kept in the OS keychain
const KeyringService = "github-practice-stats"

const handlePrefix = "worker-"

// Handle returns the credentials handle of a worker
func Handle(workerID int) string {
	return fmt.Sprintf("%s%d", handlePrefix, workerID)
}

// EnvVar returns the environment variable holding a handle's token
func EnvVar(handle string) string {
	if id, ok := strings.CutPrefix(handle, handlePrefix); ok {
		return "GH_TOKEN_" + id
	}
	return "GH_TOKEN_" + strings.ToUpper(strings.ReplaceAll(handle, "-", "_"))
}

// ErrNoToken is returned when a handle resolves to nothing
var ErrNoToken = errors.New("no token found for credentials handle")

// Resolver turns a credentials handle into a GitHub token
type Resolver struct {
	fallback   string
	useKeyring bool
}

// NewResolver creates a resolver that falls back to fallback when neither the
// environment nor the keychain has a token for a handle
func NewResolver(fallback string, useKeyring bool) *Resolver {
	return &Resolver{fallback: fallback, useKeyring: useKeyring}
}

// Resolve looks up a handle in the environment, then the OS keychain, then
// the fallback token
func (r *Resolver) Resolve(handle string) (string, error) {
	if handle != "" {
		if token := os.Getenv(EnvVar(handle)); token != "" {
			return token, nil
		}
		if r.useKeyring {
			token, err := keyring.Get(KeyringService, handle)
			switch {
			case err == nil && token != "":
				return token, nil
			case err != nil && !errors.Is(err, keyring.ErrNotFound):
				return "", fmt.Errorf("failed to read keychain for %s: %w", handle, err)
			}
		}
	}
	if r.fallback != "" {
		return r.fallback, nil
	}
	return "", fmt.Errorf("%w: %q", ErrNoToken, handle)
}

// Store saves a token for handle in the OS keychain
func (r *Resolver) Store(handle, token string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if err := keyring.Set(KeyringService, handle, token); err != nil {
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}
	return nil
}
