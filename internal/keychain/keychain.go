// Package keychain stores the backend's credentials.
//
// On macOS secrets are generic passwords in the login Keychain under the
// service "com.lectern", readable only while the machine is unlocked and
// never synced. Elsewhere they live in a 0600 JSON file under the lectern
// home directory.
package keychain

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned when a secret does not exist in the store.
var ErrNotFound = errors.New("secret not found")

// Store is the interface for secret storage operations.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	List() ([]string, error)
	Delete(key string) error
}

// Environ resolves a mapping of environment variable name to secret key into
// "NAME=value" entries, sorted by name. Every missing secret is reported.
func Environ(s Store, secrets map[string]string) ([]string, error) {
	if len(secrets) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)

	env := make([]string, 0, len(names))
	var errs []error
	for _, name := range names {
		val, err := s.Get(secrets[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("secret for %s: %w", name, err))
			continue
		}
		env = append(env, name+"="+val)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return env, nil
}

// Token returns a func that reads key on every call, so a rotated secret is
// picked up without a restart. An empty key yields an empty token.
func Token(s Store, key string) func() (string, error) {
	return func() (string, error) {
		if key == "" {
			return "", nil
		}
		return s.Get(key)
	}
}
