// Package apiclient sends authenticated requests to the backend API and
// renews the credential once when a request is rejected as unauthorized.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/go-authgate/ringbot/credential"
)

const defaultCallTimeout = 30 * time.Second

// Doer sends HTTP requests. *retry.Client satisfies it.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// NewTransport returns a go-httpretry client that sends each request exactly
// once. Submissions are not idempotent, so the backend API is never retried
// at the transport; only a 401 is resent, by Call. A nil logger disables
// transport logging.
func NewTransport(httpClient *http.Client, logger retry.Logger) (*retry.Client, error) {
	return retry.NewClient(
		retry.WithHTTPClient(httpClient),
		retry.WithMaxRetries(0),
		retry.WithRetryableChecker(neverRetry),
		retry.WithLogger(logger),
	)
}

// neverRetry hands every response back as is, so a 5xx reaches Call as an
// *APIError instead of a *retry.RetryError.
func neverRetry(error, *http.Response) bool { return false }

// Caller is the backend call capability consumed by the approval workflow
// and the chat commands.
type Caller interface {
	Call(ctx context.Context, method, path string, body, out any) error
}

// Client implements Caller against the backend API.
type Client struct {
	client  Doer
	baseURL string
	store   *credential.Store
	renew   credential.RenewFunc
	logger  *zap.Logger
	limiter *rate.Limiter
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit throttles outgoing requests.
func WithRateLimit(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithTimeout bounds each HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New returns a Client. renew is used when the backend answers 401.
func New(
	client Doer,
	baseURL string,
	store *credential.Store,
	renew credential.RenewFunc,
	logger *zap.Logger,
	opts ...Option,
) *Client {
	c := &Client{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		renew:   renew,
		logger:  logger,
		timeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Call sends method path with body encoded as JSON and decodes a successful
// response into out. Either may be nil.
//
// A 401 renews the credential and resends the request exactly once; the
// second outcome is final. Other failures are returned as *APIError without
// retrying.
func (c *Client) Call(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	used := c.store.Get()
	status, data, err := c.send(ctx, method, path, payload, used)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		c.logger.Info("access token rejected, renewing",
			zap.String("method", method),
			zap.String("path", path),
		)

		fresh, err := c.store.Renew(ctx, used, c.renew)
		if err != nil && !errors.Is(err, credential.ErrPersist) {
			c.logger.Error("credential renewal failed", zap.Error(err))
			return &AuthError{Err: err}
		}

		status, data, err = c.send(ctx, method, path, payload, fresh)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return &AuthError{Err: ErrUnauthorized}
		}
	}

	return decode(status, data, out)
}

func (c *Client) send(
	ctx context.Context,
	method, path string,
	payload []byte,
	cred credential.Credential,
) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	cred.Token().SetAuthHeader(req)

	c.logger.Debug("backend request", zap.String("method", method), zap.String("path", path))

	resp, err := c.client.DoWithContext(reqCtx, req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func decode(status int, data []byte, out any) error {
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		if out == nil || len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return &DecodeError{Status: status, Body: data, Err: err}
		}
		return nil
	}

	var errResp errorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return &DecodeError{Status: status, Body: data, Err: err}
	}
	if errResp.Message == "" {
		return &DecodeError{Status: status, Body: data, Err: errors.New("error body has no message")}
	}
	return &APIError{Status: status, Message: errResp.Message}
}
