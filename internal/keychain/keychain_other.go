//go:build !darwin

package keychain

import "path/filepath"

// NewSystemStore returns a file-backed store in dir on platforms without
// the macOS Keychain.
func NewSystemStore(dir string) Store {
	return NewFileStore(filepath.Join(dir, "secrets.json"))
}
