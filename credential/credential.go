// Package credential holds the backend access/refresh token pair and keeps
// it consistent across concurrent renewals and restarts.
package credential

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Credential is the token pair used to authenticate to the backend.
// Expiry fields are unix seconds; both zero means the pair was never fetched.
type Credential struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	AccessExpiresAt  int64  `json:"access_token_expires_at"`
	RefreshExpiresAt int64  `json:"refresh_token_expires_at"`
}

// IsZero reports whether the credential was never populated.
func (c Credential) IsZero() bool {
	return c == Credential{}
}

// AccessUsable reports whether the access token can still be sent.
func (c Credential) AccessUsable(now time.Time) bool {
	return c.AccessToken != "" && c.AccessExpiresAt > now.Unix()
}

// RefreshUsable reports whether the pair can be refreshed instead of re-minted.
// A zero or past-due refresh expiry makes the pair unusable.
func (c Credential) RefreshUsable(now time.Time) bool {
	return c.RefreshToken != "" && c.RefreshExpiresAt > now.Unix()
}

// Validate checks the expiry invariant and the token fields.
func (c Credential) Validate() error {
	if c.AccessExpiresAt == 0 && c.RefreshExpiresAt == 0 {
		if c.AccessToken != "" || c.RefreshToken != "" {
			return errors.New("tokens present without expiry timestamps")
		}
		return nil
	}
	if c.AccessExpiresAt <= 0 || c.RefreshExpiresAt <= 0 {
		return fmt.Errorf(
			"expiry timestamps must both be positive, got access=%d refresh=%d",
			c.AccessExpiresAt,
			c.RefreshExpiresAt,
		)
	}
	if c.AccessToken == "" {
		return errors.New("access_token is empty")
	}
	if c.RefreshToken == "" {
		return errors.New("refresh_token is empty")
	}
	return nil
}

// Token returns the access token as an oauth2 bearer token.
func (c Credential) Token() *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
	}
	if c.AccessExpiresAt > 0 {
		t.Expiry = time.Unix(c.AccessExpiresAt, 0)
	}
	return t
}

// Preview returns a shortened access token safe for logs.
func (c Credential) Preview() string {
	const n = 8
	if len(c.AccessToken) <= n {
		return c.AccessToken
	}
	return c.AccessToken[:n] + "..."
}
