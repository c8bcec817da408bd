package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/nhle/robinsync/internal/naming"
)

// Integration binds one origin mailbox to a forwarding alias and the vault
// folder its mail is archived under. The alias is the identity key.
type Integration struct {
	ForwardingEmailAlias string `json:"forwardingEmailAlias"`
	RootDirectory        string `json:"rootDirectory"`
	OriginEmail          string `json:"originEmail"`
}

// ForwardingAddress returns the service address mail is forwarded to.
func (i Integration) ForwardingAddress() string {
	return naming.ForwardingAddress(i.ForwardingEmailAlias)
}

// EmailAuth is the credential that authorizes API access for one origin
// mailbox. Several integrations may share it.
type EmailAuth struct {
	OriginEmail string `json:"originEmail"`
	AccessToken string `json:"accessToken"`
}

// Settings is the persisted configuration record.
//
// The scalar EmailAddress, AccessToken, ForwardingEmailAlias and
// RootDirectory fields predate multiple integrations. They are kept
// populated for display but are ignored for sync whenever Integrations is
// non-empty.
type Settings struct {
	HasWelcomedUser     bool `json:"hasWelcomedUser"`
	DownloadAttachments bool `json:"downloadAttachments"`
	SyncOnLaunch        bool `json:"syncOnLaunch"`

	EmailAddress         string `json:"emailAddress"`
	AccessToken          string `json:"accessToken"`
	ForwardingEmailAlias string `json:"forwardingEmailAlias"`
	RootDirectory        string `json:"rootDirectory"`

	Integrations []Integration `json:"integrations"`
	EmailAuths   []EmailAuth   `json:"emailAuths"`
}

// DefaultSettings returns the record used for a fresh installation.
func DefaultSettings() *Settings {
	return &Settings{
		RootDirectory:       naming.DefaultRootDirectory,
		DownloadAttachments: true,
		Integrations:        []Integration{},
		EmailAuths:          []EmailAuth{},
	}
}

// MergeSettings decodes a persisted record over the defaults. Keys absent
// from raw keep their default value. An empty raw yields the defaults.
func MergeSettings(raw []byte) (*Settings, error) {
	s := DefaultSettings()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	return s, nil
}

// Clone returns a deep copy of s.
func (s *Settings) Clone() *Settings {
	c := *s
	c.Integrations = slices.Clone(s.Integrations)
	c.EmailAuths = slices.Clone(s.EmailAuths)
	return &c
}

// MigrateSettings normalizes a record written by any earlier version into
// the multi-integration schema. It never clears legacy fields and applying
// it twice gives the same result as applying it once.
func MigrateSettings(in Settings) Settings {
	out := *in.Clone()
	if out.Integrations == nil {
		out.Integrations = []Integration{}
	}
	if out.EmailAuths == nil {
		out.EmailAuths = []EmailAuth{}
	}

	// Integrations created before origin addresses were recorded belong to
	// the single legacy mailbox.
	for i := range out.Integrations {
		if out.Integrations[i].OriginEmail == "" {
			out.Integrations[i].OriginEmail = out.EmailAddress
		}
	}

	if legacy, ok := out.LegacyIntegration(); ok && len(out.Integrations) == 0 {
		out.Integrations = append(out.Integrations, legacy)
	}

	if out.EmailAddress != "" && out.AccessToken != "" {
		_, found := lo.Find(out.EmailAuths, func(a EmailAuth) bool {
			return a.OriginEmail == out.EmailAddress
		})
		if !found {
			out.EmailAuths = append(out.EmailAuths, EmailAuth{
				OriginEmail: out.EmailAddress,
				AccessToken: out.AccessToken,
			})
		}
	}

	return out
}

// LegacyIntegration builds the single integration described by the legacy
// scalar fields. It reports false when those fields are incomplete.
func (s *Settings) LegacyIntegration() (Integration, bool) {
	if s.EmailAddress == "" || s.ForwardingEmailAlias == "" {
		return Integration{}, false
	}
	return Integration{
		ForwardingEmailAlias: s.ForwardingEmailAlias,
		RootDirectory:        naming.NormalizeRootDirectory(s.RootDirectory),
		OriginEmail:          s.EmailAddress,
	}, true
}

// FindIntegration returns the integration registered under alias.
func (s *Settings) FindIntegration(alias string) (Integration, bool) {
	return lo.Find(s.Integrations, func(i Integration) bool {
		return i.ForwardingEmailAlias == alias
	})
}

// AddIntegration appends in, rejecting a duplicate alias.
func (s *Settings) AddIntegration(in Integration) error {
	if _, exists := s.FindIntegration(in.ForwardingEmailAlias); exists {
		return fmt.Errorf("integration %q already exists", in.ForwardingEmailAlias)
	}
	s.Integrations = append(s.Integrations, in)
	return nil
}

// RemoveIntegration drops the integration registered under alias and
// reports whether one was removed. Credentials are left untouched.
func (s *Settings) RemoveIntegration(alias string) bool {
	before := len(s.Integrations)
	s.Integrations = lo.Filter(s.Integrations, func(i Integration, _ int) bool {
		return i.ForwardingEmailAlias != alias
	})
	return len(s.Integrations) != before
}

// OrphanedAuths returns credentials that no integration references.
func (s *Settings) OrphanedAuths() []EmailAuth {
	return lo.Filter(s.EmailAuths, func(a EmailAuth, _ int) bool {
		return !lo.ContainsBy(s.Integrations, func(i Integration) bool {
			return i.OriginEmail == a.OriginEmail
		})
	})
}

// SharedOriginEmail returns the origin mailbox used by existing
// integrations, falling back to the legacy address.
func (s *Settings) SharedOriginEmail() string {
	if len(s.Integrations) > 0 && s.Integrations[0].OriginEmail != "" {
		return s.Integrations[0].OriginEmail
	}
	return s.EmailAddress
}
