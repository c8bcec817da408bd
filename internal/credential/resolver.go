package credential

import (
	"context"

	"github.com/nhle/robinsync/internal/model"
)

// SaveFunc persists the whole settings record.
type SaveFunc func(ctx context.Context, s *model.Settings) error

// GetAccessTokenForEmail returns the token registered for originEmail. When
// no entry matches, or the matching entry holds no token, the legacy
// single-account token is returned, which may itself be empty.
func GetAccessTokenForEmail(s *model.Settings, originEmail string) string {
	for _, auth := range s.EmailAuths {
		if auth.OriginEmail == originEmail {
			if auth.AccessToken != "" {
				return auth.AccessToken
			}
			break
		}
	}
	return s.AccessToken
}

// SetAccessTokenForEmail records token for originEmail, replacing an existing
// entry or appending a new one, then persists the record with save exactly
// once.
func SetAccessTokenForEmail(ctx context.Context, s *model.Settings, originEmail, token string, save SaveFunc) error {
	replaced := false
	for i := range s.EmailAuths {
		if s.EmailAuths[i].OriginEmail == originEmail {
			s.EmailAuths[i].AccessToken = token
			replaced = true
			break
		}
	}
	if !replaced {
		s.EmailAuths = append(s.EmailAuths, model.EmailAuth{
			OriginEmail: originEmail,
			AccessToken: token,
		})
	}

	return save(ctx, s)
}
