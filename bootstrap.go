package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/go-authgate/ringbot/broker"
	"github.com/go-authgate/ringbot/credential"
	"github.com/go-authgate/ringbot/tui"
)

// tokenSource is the part of the broker used to prime credentials.
type tokenSource interface {
	Mint(ctx context.Context, last credential.Credential) (credential.Credential, error)
	Refresh(ctx context.Context, cur credential.Credential) (credential.Credential, error)
}

// bootstrap makes sure the store holds a usable credential before anything
// calls the backend. A persisted pair whose refresh lifetime passed is
// re-minted; an expired access token is refreshed, falling back to minting.
// Minting may fall back to the persisted pair only while its refresh token
// has not been rejected.
func bootstrap(
	ctx context.Context,
	d tui.Displayer,
	store *credential.Store,
	tokens tokenSource,
	logger *zap.Logger,
	now func() time.Time,
) (credential.Credential, error) {
	cur := store.Load()

	if !cur.RefreshUsable(now()) {
		d.CredentialsNotFound()
		return mintAndSave(ctx, d, store, tokens, logger, cur)
	}
	d.CredentialsFound()

	if cur.AccessUsable(now()) {
		d.CredentialValid(time.Unix(cur.AccessExpiresAt, 0).Sub(now()))
		return cur, nil
	}

	d.Refreshing()
	next, err := tokens.Refresh(ctx, cur)
	if err != nil {
		if ctx.Err() != nil {
			return credential.Credential{}, err
		}
		d.RefreshFailed(err)
		last := cur
		if errors.Is(err, broker.ErrRefreshRejected) {
			// the backend refused this refresh token; never start with it
			last = credential.Credential{}
		}
		return mintAndSave(ctx, d, store, tokens, logger, last)
	}
	d.RefreshOK()
	return save(d, store, logger, next), nil
}

func mintAndSave(
	ctx context.Context,
	d tui.Displayer,
	store *credential.Store,
	tokens tokenSource,
	logger *zap.Logger,
	last credential.Credential,
) (credential.Credential, error) {
	d.Minting()
	next, err := tokens.Mint(ctx, last)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("mint credentials: %w", err)
	}
	if !last.IsZero() && next == last {
		d.MintFallback()
		return next, nil
	}
	d.MintOK()
	return save(d, store, logger, next), nil
}

// save installs c. A failed write is reported but not fatal: the pair is
// live in memory and the next renewal persists again.
func save(d tui.Displayer, store *credential.Store, logger *zap.Logger, c credential.Credential) credential.Credential {
	if err := store.Set(c); err != nil {
		logger.Error("failed to persist credential", zap.Error(err))
		d.SaveFailed(err)
		return c
	}
	d.Saved(store.Path())
	return c
}
