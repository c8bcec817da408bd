package credential

import (
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "robinsync"

// ErrNotFound is returned by Get when no secret is stored under the key.
var ErrNotFound = errors.New("credential not found")

// KeyringConfig selects the backing secret store.
type KeyringConfig struct {
	// FileDir holds the encrypted file backend, used when no OS keyring is
	// available.
	FileDir string

	// FilePassword unlocks the file backend. Empty uses a fixed key.
	FilePassword string
}

// Keyring stores access tokens outside the settings record.
type Keyring struct {
	mu   sync.Mutex
	ring keyring.Keyring
}

// Open returns a Keyring backed by the first available OS backend.
func Open(cfg KeyringConfig) (*Keyring, error) {
	password := cfg.FilePassword
	if password == "" {
		password = "robinsync-file-key"
	}
	fileDir := cfg.FileDir
	if fileDir == "" {
		fileDir = "~/.config/robinsync/credentials"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(password),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Keyring{ring: ring}, nil
}

// NewMemoryKeyring returns a Keyring that lives only in process memory.
func NewMemoryKeyring() *Keyring {
	return &Keyring{ring: keyring.NewArrayKeyring(nil)}
}

// TokenKey returns the keyring key for the access token of originEmail.
// The address is used verbatim so it matches the settings record, where
// auths are looked up by exact origin.
func TokenKey(originEmail string) string {
	return "access-token:" + originEmail
}

// Get retrieves a secret by key.
func (k *Keyring) Get(key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a secret by key, replacing any previous value.
func (k *Keyring) Set(key string, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	err := k.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "robinsync " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a secret by key. Deleting a missing key is not an error.
func (k *Keyring) Delete(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	err := k.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
