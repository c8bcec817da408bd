// Package settings loads and persists the settings record.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nhle/robinsync/internal/credential"
	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/store"
)

// DataKey is the key the settings record is stored under.
const DataKey = "settings"

// legacyTokenKey holds the pre-integration access token in the keyring.
const legacyTokenKey = "access-token:legacy"

// DataStore is the generic key-value persistence the record lives in.
type DataStore interface {
	LoadData(ctx context.Context, key string) ([]byte, error)
	SaveData(ctx context.Context, key string, data []byte) error
}

// Manager reads and writes the settings record. When a keyring is set,
// access tokens are kept there and blanked in the stored JSON.
type Manager struct {
	mu      sync.Mutex
	data    DataStore
	keyring *credential.Keyring
	logger  *log.Logger
}

// NewManager returns a Manager over data. keyring may be nil.
func NewManager(data DataStore, keyring *credential.Keyring, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		data:    data,
		keyring: keyring,
		logger:  logger.WithPrefix("settings"),
	}
}

// Load returns the migrated settings record. A missing record yields the
// defaults. When migration changes the record it is persisted once.
func (m *Manager) Load(ctx context.Context) (*model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.data.LoadData(ctx, DataKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	merged, err := model.MergeSettings(raw)
	if err != nil {
		return nil, err
	}

	unsealed := m.keyring != nil && hasStoredTokens(merged)
	m.hydrateTokens(merged)

	migrated := model.MigrateSettings(*merged)
	changed := !reflect.DeepEqual(*merged, migrated)
	if changed {
		m.logger.Info("migrated settings",
			"integrations", len(migrated.Integrations),
			"credentials", len(migrated.EmailAuths),
		)
	}
	if changed || unsealed {
		if err := m.save(ctx, &migrated); err != nil {
			return nil, err
		}
	}

	return &migrated, nil
}

// Save persists s. The caller's value is not modified.
func (m *Manager) Save(ctx context.Context, s *model.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.save(ctx, s)
}

func (m *Manager) save(ctx context.Context, s *model.Settings) error {
	out := s.Clone()

	if m.keyring != nil {
		if err := m.sealTokens(out); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := m.data.SaveData(ctx, DataKey, data); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// sealTokens moves every non-empty token of s into the keyring and blanks
// it in s.
func (m *Manager) sealTokens(s *model.Settings) error {
	for i := range s.EmailAuths {
		auth := &s.EmailAuths[i]
		if auth.AccessToken == "" {
			continue
		}
		if err := m.keyring.Set(credential.TokenKey(auth.OriginEmail), auth.AccessToken); err != nil {
			return fmt.Errorf("storing token for %s: %w", auth.OriginEmail, err)
		}
		auth.AccessToken = ""
	}

	if s.AccessToken != "" {
		if err := m.keyring.Set(legacyTokenKey, s.AccessToken); err != nil {
			return fmt.Errorf("storing legacy token: %w", err)
		}
		s.AccessToken = ""
	}
	return nil
}

// hydrateTokens fills blank tokens of s from the keyring. Missing keyring
// entries leave the token blank.
func (m *Manager) hydrateTokens(s *model.Settings) {
	if m.keyring == nil {
		return
	}

	for i := range s.EmailAuths {
		auth := &s.EmailAuths[i]
		if auth.AccessToken != "" {
			continue
		}
		auth.AccessToken = m.lookup(credential.TokenKey(auth.OriginEmail))
	}

	if s.AccessToken == "" {
		s.AccessToken = m.lookup(legacyTokenKey)
	}
}

// hasStoredTokens reports whether the persisted record carries plaintext
// tokens, as records written without a keyring do.
func hasStoredTokens(s *model.Settings) bool {
	if s.AccessToken != "" {
		return true
	}
	for _, auth := range s.EmailAuths {
		if auth.AccessToken != "" {
			return true
		}
	}
	return false
}

func (m *Manager) lookup(key string) string {
	token, err := m.keyring.Get(key)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			m.logger.Warn("reading keyring", "key", key, "err", err)
		}
		return ""
	}
	return token
}
