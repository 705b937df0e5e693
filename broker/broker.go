// Package broker performs the network exchanges that mint and refresh the
// bot's backend credential.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/go-authgate/ringbot/credential"
)

var (
	// ErrRefreshRejected means the backend refused the refresh token itself.
	// The pair must be re-minted; retrying the refresh cannot succeed.
	ErrRefreshRejected = errors.New("refresh token rejected")
	// ErrMintRejected means the backend refused the identity secret.
	ErrMintRejected = errors.New("identity secret rejected")
	// ErrAttemptsExhausted means every attempt hit a transient failure.
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
)

const (
	setupPath   = "/bot/setup"
	refreshPath = "/bot/refresh"

	attemptTimeout = 60 * time.Second
)

// Broker talks to the backend authentication endpoints.
type Broker struct {
	client  *http.Client
	baseURL string
	secret  string
	logger  *zap.Logger
	now     func() time.Time

	retryDelay        time.Duration
	mintAttempts      int
	renewMintAttempts int
	refreshAttempts   int
	onRetry           func(op string, attempt int, err error)
}

// Option configures a Broker.
type Option func(*Broker)

// WithRetryDelay sets the fixed pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Broker) { b.retryDelay = d }
}

// WithMintAttempts bounds Mint. Zero keeps retrying until ctx ends.
func WithMintAttempts(n int) Option {
	return func(b *Broker) { b.mintAttempts = n }
}

// WithRenewMintAttempts bounds the mint that Renew falls back to.
func WithRenewMintAttempts(n int) Option {
	return func(b *Broker) { b.renewMintAttempts = n }
}

// WithRefreshAttempts bounds Refresh.
func WithRefreshAttempts(n int) Option {
	return func(b *Broker) { b.refreshAttempts = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithRetryHook is called before every retry pause with the number of
// failed attempts so far.
func WithRetryHook(fn func(op string, attempt int, err error)) Option {
	return func(b *Broker) { b.onRetry = fn }
}

// New returns a Broker for the authentication endpoints under baseURL.
// Every exchange goes through a go-httpretry client built on top of client.
func New(client *http.Client, baseURL, secret string, logger *zap.Logger, opts ...Option) *Broker {
	b := &Broker{
		client:            client,
		baseURL:           strings.TrimRight(baseURL, "/"),
		secret:            secret,
		logger:            logger,
		now:               time.Now,
		retryDelay:        time.Second,
		renewMintAttempts: 5,
		refreshAttempts:   3,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type setupRequest struct {
	BotToken string `json:"bot_token"`
}

type refreshRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// errorResponse is the backend's error body.
type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Mint exchanges the identity secret for a fresh credential.
//
// Connection errors, 5xx and 418 (backend not ready) are retried with a fixed
// pause. If minting cannot succeed, last is returned instead when its refresh
// lifetime has not passed; an expired last is never returned.
func (b *Broker) Mint(ctx context.Context, last credential.Credential) (credential.Credential, error) {
	c, err := b.mint(ctx, b.mintAttempts)
	if err == nil {
		return c, nil
	}
	if ctx.Err() != nil {
		return credential.Credential{}, err
	}

	if last.RefreshUsable(b.now()) && last.Validate() == nil {
		b.logger.Warn("mint failed, falling back to persisted credential",
			zap.Error(err),
			zap.Time("refresh_expires_at", time.Unix(last.RefreshExpiresAt, 0)),
		)
		return last, nil
	}
	return credential.Credential{}, err
}

func (b *Broker) mint(ctx context.Context, attempts int) (credential.Credential, error) {
	body := setupRequest{BotToken: b.secret}
	c, err := b.exchange(ctx, "mint", attempts, setupPath, body, credential.Credential{})
	var rejected *oauth2.RetrieveError
	if errors.As(err, &rejected) {
		return c, fmt.Errorf("mint failed: %w: %w", ErrMintRejected, err)
	}
	return c, err
}

// Refresh exchanges cur for a newer pair. A definitive rejection returns an
// error wrapping ErrRefreshRejected; transient failures are retried a bounded
// number of times.
func (b *Broker) Refresh(ctx context.Context, cur credential.Credential) (credential.Credential, error) {
	body := refreshRequest{AccessToken: cur.AccessToken, RefreshToken: cur.RefreshToken}
	c, err := b.exchange(ctx, "refresh", b.refreshAttempts, refreshPath, body, cur)
	var rejected *oauth2.RetrieveError
	if errors.As(err, &rejected) {
		return c, fmt.Errorf("refresh failed: %w: %w", ErrRefreshRejected, err)
	}
	return c, err
}

// Renew picks refresh or mint from the expiry of cur. A pair whose refresh
// lifetime has passed is re-minted; a refresh the backend rejects falls back
// to minting. It never falls back to a persisted credential.
func (b *Broker) Renew(ctx context.Context, cur credential.Credential) (credential.Credential, error) {
	if !cur.RefreshUsable(b.now()) {
		b.logger.Info("refresh token unusable, minting new credential")
		return b.mint(ctx, b.renewMintAttempts)
	}

	c, err := b.Refresh(ctx, cur)
	if errors.Is(err, ErrRefreshRejected) {
		b.logger.Warn("refresh rejected, minting new credential", zap.Error(err))
		c, err = b.mint(ctx, b.renewMintAttempts)
		if err != nil {
			return credential.Credential{}, fmt.Errorf("re-mint after rejected refresh: %w", err)
		}
	}
	return c, err
}

// transport returns a client that retries connection errors, 5xx and 418
// with a fixed pause. attempts of zero retries until ctx ends.
func (b *Broker) transport(op string, attempts int) (*retry.Client, error) {
	retries := math.MaxInt32
	if attempts > 0 {
		retries = attempts - 1
	}
	logger := b.logger.With(zap.String("op", op))
	return retry.NewClient(
		retry.WithHTTPClient(b.client),
		retry.WithMaxRetries(retries),
		retry.WithInitialRetryDelay(b.retryDelay),
		retry.WithMaxRetryDelay(b.retryDelay),
		retry.WithJitter(false),
		retry.WithRespectRetryAfter(false),
		retry.WithPerAttemptTimeout(attemptTimeout),
		retry.WithRetryableChecker(retryable),
		retry.WithLogger(RetryLogger(logger)),
		retry.WithOnRetry(func(info retry.RetryInfo) {
			if b.onRetry != nil {
				b.onRetry(op, info.Attempt, retryCause(info.Err, info.StatusCode))
			}
		}),
	)
}

// retryable extends the library default with 418, which the backend
// answers while it is still starting.
func retryable(err error, resp *http.Response) bool {
	if err == nil && resp != nil && resp.StatusCode == http.StatusTeapot {
		return true
	}
	return retry.DefaultRetryableChecker(err, resp)
}

func retryCause(err error, status int) error {
	switch {
	case err != nil:
		return err
	case status == http.StatusTeapot:
		return errors.New("backend not ready")
	default:
		return fmt.Errorf("server returned status %d", status)
	}
}

// exchange performs one POST, retried per transport. Rejections come back
// as *oauth2.RetrieveError.
func (b *Broker) exchange(
	ctx context.Context,
	op string,
	attempts int,
	path string,
	payload any,
	prev credential.Credential,
) (credential.Credential, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("failed to encode request: %w", err)
	}

	client, err := b.transport(op, attempts)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("failed to create retry client: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return credential.Credential{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.DoWithContext(ctx, req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if ctx.Err() != nil {
			return credential.Credential{}, ctx.Err()
		}
		var exhausted *retry.RetryError
		if errors.As(err, &exhausted) {
			return credential.Credential{}, fmt.Errorf(
				"%s failed after %d attempts: %w: %w",
				op, exhausted.Attempts, ErrAttemptsExhausted,
				retryCause(exhausted.LastErr, exhausted.LastStatus),
			)
		}
		return credential.Credential{}, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("%s failed to read response: %w", op, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return credential.Credential{}, rejection(resp, body)
	}

	var c credential.Credential
	if err := json.Unmarshal(body, &c); err != nil {
		return credential.Credential{}, fmt.Errorf("failed to parse credential response: %w", err)
	}

	// Fixed-mode backends do not rotate the refresh token
	if c.RefreshToken == "" && prev.RefreshToken != "" {
		c.RefreshToken = prev.RefreshToken
		if c.RefreshExpiresAt == 0 {
			c.RefreshExpiresAt = prev.RefreshExpiresAt
		}
	}

	if err := validateCredentialResponse(c, b.now()); err != nil {
		return credential.Credential{}, fmt.Errorf("invalid credential response: %w", err)
	}
	return c, nil
}

func rejection(resp *http.Response, body []byte) *oauth2.RetrieveError {
	re := &oauth2.RetrieveError{
		Response:  resp,
		Body:      body,
		ErrorCode: strconv.Itoa(resp.StatusCode),
	}
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		re.ErrorDescription = errResp.Message
	} else {
		re.ErrorDescription = http.StatusText(resp.StatusCode)
	}
	return re
}

// validateCredentialResponse checks a credential freshly issued by the backend.
func validateCredentialResponse(c credential.Credential, now time.Time) error {
	if c.AccessToken == "" {
		return errors.New("access_token is empty")
	}
	if len(c.AccessToken) < 10 {
		return fmt.Errorf("access_token is too short (length: %d)", len(c.AccessToken))
	}
	if c.AccessExpiresAt <= now.Unix() {
		return fmt.Errorf("access_token_expires_at is not in the future: %d", c.AccessExpiresAt)
	}
	if c.RefreshExpiresAt <= now.Unix() {
		return fmt.Errorf("refresh_token_expires_at is not in the future: %d", c.RefreshExpiresAt)
	}
	return c.Validate()
}
