package credential

import (
	"testing"
	"time"
)

func TestCredential_Validate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		c       Credential
		wantErr bool
	}{
		{"never fetched", Credential{}, false},
		{"valid pair", validCredential("a", now), false},
		{"tokens without expiry", Credential{AccessToken: "a", RefreshToken: "r"}, true},
		{"only access expiry", Credential{AccessToken: "a", RefreshToken: "r", AccessExpiresAt: 10}, true},
		{"negative refresh expiry", Credential{AccessToken: "a", RefreshToken: "r", AccessExpiresAt: 10, RefreshExpiresAt: -1}, true},
		{"missing access token", Credential{RefreshToken: "r", AccessExpiresAt: 10, RefreshExpiresAt: 10}, true},
		{"missing refresh token", Credential{AccessToken: "a", AccessExpiresAt: 10, RefreshExpiresAt: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCredential_Usability(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	c := Credential{
		AccessToken:      "a",
		RefreshToken:     "r",
		AccessExpiresAt:  now.Unix() - 1,
		RefreshExpiresAt: now.Unix() + 60,
	}

	if c.AccessUsable(now) {
		t.Error("expired access token reported usable")
	}
	if !c.RefreshUsable(now) {
		t.Error("live refresh token reported unusable")
	}

	c.RefreshExpiresAt = now.Unix()
	if c.RefreshUsable(now) {
		t.Error("refresh token expiring now reported usable")
	}

	if (Credential{}).RefreshUsable(now) {
		t.Error("zero credential reported refreshable")
	}
}

func TestCredential_Token(t *testing.T) {
	c := validCredential("a", time.Now())
	tok := c.Token()
	if tok.AccessToken != c.AccessToken || tok.Type() != "Bearer" {
		t.Errorf("Token() = %+v", tok)
	}
	if tok.Expiry.Unix() != c.AccessExpiresAt {
		t.Errorf("Token().Expiry = %v, want %d", tok.Expiry, c.AccessExpiresAt)
	}
}
