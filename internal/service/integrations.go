package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhle/robinsync/internal/credential"
	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/naming"
	"github.com/nhle/robinsync/internal/notice"
	"github.com/nhle/robinsync/internal/source"
	"github.com/nhle/robinsync/internal/vault"
)

// SetupRequest is the input of the setup flow.
type SetupRequest struct {
	OriginEmail   string
	Alias         string
	RootDirectory string
}

// ValidateOriginEmail checks the mailbox mail is forwarded from.
func ValidateOriginEmail(email string) error {
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		return &source.ConfigurationError{Field: "originEmail", Message: "Email address is required"}
	case !naming.IsValidEmail(email) || naming.IsTaskRobinEmail(email):
		return &source.ConfigurationError{Field: "originEmail", Message: "Please enter a valid email address."}
	}
	return nil
}

// ValidateAlias checks the local part of the forwarding address.
func ValidateAlias(alias string) error {
	alias = strings.TrimSpace(alias)
	switch {
	case alias == "":
		return &source.ConfigurationError{Field: "forwardingEmailAlias", Message: "Forwarding address is required"}
	case !naming.IsValidAlias(alias):
		return &source.ConfigurationError{
			Field:   "forwardingEmailAlias",
			Message: "Only letters, numbers, hyphens, and underscores are allowed",
		}
	}
	return nil
}

// Setup registers a new forwarding alias with the service and stores the
// resulting integration. An empty origin reuses the mailbox existing
// integrations share.
func (s *Service) Setup(ctx context.Context, req SetupRequest) (*model.Integration, error) {
	current, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}

	origin := strings.TrimSpace(req.OriginEmail)
	if origin == "" {
		origin = current.SharedOriginEmail()
	}
	alias := strings.TrimSpace(req.Alias)
	root := naming.NormalizeRootDirectory(req.RootDirectory)

	if err := ValidateOriginEmail(origin); err != nil {
		return nil, err
	}
	if err := ValidateAlias(alias); err != nil {
		return nil, err
	}
	if _, exists := current.FindIntegration(alias); exists {
		return nil, &source.ConfigurationError{
			Field:   "forwardingEmailAlias",
			Message: fmt.Sprintf("An integration named %s already exists", alias),
		}
	}

	logger := s.logger.With("alias", alias, "origin", origin)

	resp, err := s.remote.CreateIntegration(ctx, origin, alias)
	if err != nil {
		logger.Error("creating integration", "err", err)
		notice.Errorf(s.notifier, "Failed to create integration. Please check your network connection and try again.")
		return nil, err
	}
	if !resp.OK() {
		logger.Error("integration rejected", "status", resp.Status, "error", resp.Error)
		notice.Errorf(s.notifier, "Failed to create integration: %s", resp.Error)
		return nil, &source.RemoteRejection{Op: "create integration", Message: resp.Error}
	}

	if resp.AccessToken != "" {
		if err := credential.SetAccessTokenForEmail(ctx, current, origin, resp.AccessToken, s.settings.Save); err != nil {
			return nil, err
		}
		if current.AccessToken == "" {
			current.AccessToken = resp.AccessToken
		}
	}

	in := model.Integration{ForwardingEmailAlias: alias, RootDirectory: root, OriginEmail: origin}
	if err := current.AddIntegration(in); err != nil {
		return nil, err
	}
	current.EmailAddress = origin
	current.ForwardingEmailAlias = alias

	if err := vault.EnsureFolder(s.vault, root); err != nil {
		logger.Warn("creating root folder", "folder", root, "err", err)
		notice.Errorf(s.notifier, "Failed to create directory: %s", root)
	}

	if err := s.settings.Save(ctx, current); err != nil {
		return nil, err
	}

	logger.Info("integration created", "folder", root)
	notice.Successf(s.notifier, "Integration created successfully!")
	return &in, nil
}

// DeleteIntegration removes the mapping for alias remotely and then from
// the settings. The mailbox credential is kept.
func (s *Service) DeleteIntegration(ctx context.Context, alias string) error {
	current, err := s.settings.Load(ctx)
	if err != nil {
		return err
	}

	in, ok := current.FindIntegration(alias)
	if !ok {
		return &source.ConfigurationError{
			Field:   "forwardingEmailAlias",
			Message: fmt.Sprintf("no integration named %q", alias),
		}
	}
	origin := in.OriginEmail
	if origin == "" {
		origin = current.EmailAddress
	}
	token := credential.GetAccessTokenForEmail(current, origin)
	if token == "" {
		return &source.ConfigurationError{
			Field:   "accessToken",
			Message: fmt.Sprintf("no access token for %s", origin),
		}
	}

	logger := s.logger.With("alias", alias, "origin", origin)

	resp, err := s.remote.DeleteIntegration(ctx, origin, alias, token)
	if err != nil {
		logger.Error("deleting integration", "err", err)
		notice.Errorf(s.notifier, "Failed to delete integration. Check the log for details.")
		return err
	}
	if !resp.OK() {
		logger.Error("deletion rejected", "status", resp.Status, "error", resp.Error)
		notice.Errorf(s.notifier, "Failed to delete integration. Check the log for details.")
		return &source.RemoteRejection{Op: "delete integration", Message: resp.Error}
	}

	current.RemoveIntegration(alias)
	repointLegacy(current, alias)

	if err := s.settings.Save(ctx, current); err != nil {
		return err
	}

	logger.Info("integration deleted")
	notice.Successf(s.notifier, "Integration successfully deleted!")
	return nil
}

// repointLegacy keeps the legacy scalars from naming a deleted alias.
// Otherwise the next load would rebuild the integration from them.
func repointLegacy(s *model.Settings, deleted string) {
	if s.ForwardingEmailAlias != deleted {
		return
	}
	if n := len(s.Integrations); n > 0 {
		last := s.Integrations[n-1]
		s.ForwardingEmailAlias = last.ForwardingEmailAlias
		s.EmailAddress = last.OriginEmail
		return
	}
	s.ForwardingEmailAlias = ""
}
