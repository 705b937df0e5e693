package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgCredentialsFound signals that a persisted credential was loaded.
type MsgCredentialsFound struct{}

// MsgCredentialsNotFound signals that no usable credential is on disk.
type MsgCredentialsNotFound struct{}

// MsgCredentialValid signals that the persisted access token is still valid.
type MsgCredentialValid struct{ ExpiresIn time.Duration }

// MsgMinting signals that a new credential is being minted from the identity secret.
type MsgMinting struct{}

// MsgMintOK signals that minting succeeded.
type MsgMintOK struct{}

// MsgMintFallback signals that minting failed and the persisted credential is used.
type MsgMintFallback struct{}

// MsgRetrying signals that a token exchange failed transiently and is retried.
type MsgRetrying struct {
	Op      string
	Attempt int
	Err     error
}

// MsgRefreshing signals that a credential refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the credential was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that refresh failed and minting takes over.
type MsgRefreshFailed struct{ Err error }

// MsgSaved signals that the credential was persisted.
type MsgSaved struct{ Path string }

// MsgSaveFailed signals that persisting the credential failed.
type MsgSaveFailed struct{ Err error }

// MsgRoutingLoaded signals that channel routing was loaded.
type MsgRoutingLoaded struct{ Configured, Total int }

// MsgDecisionsRecovered signals how many pending decisions survived a restart.
type MsgDecisionsRecovered struct{ Resumed, Expired int }

// MsgConnecting signals that the chat gateway connection is starting.
type MsgConnecting struct{}

// MsgReady signals that startup completed.
type MsgReady struct {
	Preview          string
	AccessExpiresIn  time.Duration
	RefreshExpiresIn time.Duration
}

// MsgFatal signals a fatal error that stops startup.
type MsgFatal struct{ Err error }
