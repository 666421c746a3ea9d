//go:build darwin

package keychain

import (
	"errors"
	"fmt"
	"sort"

	gokeychain "github.com/keybase/go-keychain"
)

const service = "com.lectern"

// loginKeychain keeps each secret as a generic password item whose account
// is the secret key.
type loginKeychain struct{}

// NewSystemStore returns the login Keychain store. dir is unused on macOS.
func NewSystemStore(dir string) Store {
	return loginKeychain{}
}

// query selects lectern items, or the single item for key when key is set.
func query(key string) gokeychain.Item {
	q := gokeychain.NewItem()
	q.SetSecClass(gokeychain.SecClassGenericPassword)
	q.SetService(service)
	if key != "" {
		q.SetAccount(key)
	}
	return q
}

func (loginKeychain) Set(key, value string) error {
	item := query(key)
	item.SetLabel("lectern: " + key)
	item.SetData([]byte(value))
	item.SetSynchronizable(gokeychain.SynchronizableNo)
	item.SetAccessible(gokeychain.AccessibleWhenUnlockedThisDeviceOnly)

	err := gokeychain.AddItem(item)
	if errors.Is(err, gokeychain.ErrorDuplicateItem) {
		update := gokeychain.NewItem()
		update.SetData([]byte(value))
		err = gokeychain.UpdateItem(query(key), update)
	}
	if err != nil {
		return fmt.Errorf("storing %q in keychain: %w", key, err)
	}
	return nil
}

func (loginKeychain) Get(key string) (string, error) {
	q := query(key)
	q.SetMatchLimit(gokeychain.MatchLimitOne)
	q.SetReturnData(true)

	results, err := gokeychain.QueryItem(q)
	switch {
	case errors.Is(err, gokeychain.ErrorItemNotFound):
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	case err != nil:
		return "", fmt.Errorf("reading %q from keychain: %w", key, err)
	case len(results) == 0 || len(results[0].Data) == 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return string(results[0].Data), nil
}

func (loginKeychain) List() ([]string, error) {
	q := query("")
	q.SetMatchLimit(gokeychain.MatchLimitAll)
	q.SetReturnAttributes(true)

	results, err := gokeychain.QueryItem(q)
	if errors.Is(err, gokeychain.ErrorItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing keychain: %w", err)
	}
	keys := make([]string, 0, len(results))
	for _, r := range results {
		keys = append(keys, r.Account)
	}
	sort.Strings(keys)
	return keys, nil
}

func (loginKeychain) Delete(key string) error {
	err := gokeychain.DeleteItem(query(key))
	if err != nil && !errors.Is(err, gokeychain.ErrorItemNotFound) {
		return fmt.Errorf("removing %q from keychain: %w", key, err)
	}
	return nil
}
