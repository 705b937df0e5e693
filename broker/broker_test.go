package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/oauth2"

	"github.com/go-authgate/ringbot/credential"
)

func issued(suffix string) credential.Credential {
	now := time.Now()
	return credential.Credential{
		AccessToken:      "access-token-" + suffix,
		RefreshToken:     "refresh-token-" + suffix,
		AccessExpiresAt:  now.Add(time.Hour).Unix(),
		RefreshExpiresAt: now.Add(24 * time.Hour).Unix(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newBroker(t *testing.T, url string, opts ...Option) *Broker {
	t.Helper()
	opts = append([]Option{WithRetryDelay(time.Millisecond)}, opts...)
	return New(&http.Client{}, url, "bot-secret", zap.NewNop(), opts...)
}

func TestMint_RetriesUntilReady(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, setupPath, r.URL.Path)

		var body setupRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "bot-secret", body.BotToken)

		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		writeJSON(w, http.StatusOK, issued("third"))
	}))
	defer server.Close()

	var hooks atomic.Int32
	b := newBroker(t, server.URL, WithRetryHook(func(op string, _ int, _ error) {
		require.Equal(t, "mint", op)
		hooks.Add(1)
	}))

	c, err := b.Mint(context.Background(), credential.Credential{})
	require.NoError(t, err)
	require.Equal(t, "access-token-third", c.AccessToken)
	require.Equal(t, int32(3), attempts.Load())
	require.Equal(t, int32(2), hooks.Load())
}

func TestMint_RetriesConnectionErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	b := newBroker(t, url, WithMintAttempts(3))
	_, err := b.Mint(context.Background(), credential.Credential{})
	require.ErrorIs(t, err, ErrAttemptsExhausted)
}

func TestMint_FallbackToPersisted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, errorResponse{Status: 403, Message: "unknown bot"})
	}))
	defer server.Close()

	b := newBroker(t, server.URL)

	t.Run("fresh persisted credential is used", func(t *testing.T) {
		last := issued("persisted")
		c, err := b.Mint(context.Background(), last)
		require.NoError(t, err)
		require.Equal(t, last, c)
	})

	t.Run("expired persisted credential is never returned", func(t *testing.T) {
		last := issued("persisted")
		last.RefreshExpiresAt = time.Now().Add(-time.Minute).Unix()

		c, err := b.Mint(context.Background(), last)
		require.ErrorIs(t, err, ErrMintRejected)
		require.True(t, c.IsZero())
	})
}

func TestMint_StopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	b := newBroker(t, server.URL, WithRetryDelay(10*time.Millisecond))
	_, err := b.Mint(ctx, issued("persisted"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRefresh_RotationModes(t *testing.T) {
	cur := issued("old")

	tests := []struct {
		name        string
		response    map[string]any
		wantRefresh string
	}{
		{
			name: "rotation mode returns new refresh token",
			response: map[string]any{
				"access_token":             "access-token-new",
				"refresh_token":            "refresh-token-new",
				"access_token_expires_at":  time.Now().Add(time.Hour).Unix(),
				"refresh_token_expires_at": time.Now().Add(48 * time.Hour).Unix(),
			},
			wantRefresh: "refresh-token-new",
		},
		{
			name: "fixed mode keeps old refresh token",
			response: map[string]any{
				"access_token":            "access-token-new",
				"access_token_expires_at": time.Now().Add(time.Hour).Unix(),
			},
			wantRefresh: "refresh-token-old",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, refreshPath, r.URL.Path)

				var body refreshRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, cur.AccessToken, body.AccessToken)
				assert.Equal(t, cur.RefreshToken, body.RefreshToken)

				writeJSON(w, http.StatusOK, tt.response)
			}))
			defer server.Close()

			c, err := newBroker(t, server.URL).Refresh(context.Background(), cur)
			require.NoError(t, err)
			require.Equal(t, "access-token-new", c.AccessToken)
			require.Equal(t, tt.wantRefresh, c.RefreshToken)
			require.Positive(t, c.RefreshExpiresAt)
		})
	}
}

func TestRefresh_RejectionIsTerminal(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Status: 401, Message: "refresh token expired"})
	}))
	defer server.Close()

	_, err := newBroker(t, server.URL).Refresh(context.Background(), issued("old"))
	require.ErrorIs(t, err, ErrRefreshRejected)

	var re *oauth2.RetrieveError
	require.True(t, errors.As(err, &re))
	require.Equal(t, "refresh token expired", re.ErrorDescription)
	require.Equal(t, int32(1), attempts.Load())
}

func TestRefresh_BoundedRetry(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	_, err := newBroker(t, server.URL, WithRefreshAttempts(2)).Refresh(context.Background(), issued("old"))
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.Equal(t, int32(2), attempts.Load())
}

func TestMint_FixedDelayBetweenAttempts(t *testing.T) {
	var mu sync.Mutex
	var seen []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body setupRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "bot-secret", body.BotToken)

		mu.Lock()
		seen = append(seen, time.Now())
		n := len(seen)
		mu.Unlock()

		if n < 3 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, issued("third"))
	}))
	defer server.Close()

	var failures []error
	b := newBroker(t, server.URL,
		WithRetryDelay(100*time.Millisecond),
		WithRetryHook(func(op string, attempt int, err error) {
			assert.Equal(t, "mint", op)
			assert.Equal(t, len(failures)+1, attempt)
			failures = append(failures, err)
		}),
	)

	start := time.Now()
	c, err := b.Mint(context.Background(), credential.Credential{})
	require.NoError(t, err)
	require.Equal(t, "access-token-third", c.AccessToken)
	require.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, seen, 3)
	for i := 1; i < len(seen); i++ {
		gap := seen[i].Sub(seen[i-1])
		assert.GreaterOrEqual(t, gap, 100*time.Millisecond, "gap %d", i)
		assert.Less(t, gap, 500*time.Millisecond, "gap %d", i)
	}

	require.Len(t, failures, 2)
	for _, err := range failures {
		assert.ErrorContains(t, err, "status 503")
	}
}

func TestRefresh_ExhaustedServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newBroker(t, server.URL).Refresh(context.Background(), issued("old"))
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.ErrorContains(t, err, "status 502")
	require.NotErrorIs(t, err, ErrRefreshRejected)
	require.Equal(t, int32(3), attempts.Load())
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   bool
	}{
		{"connection error", errors.New("dial tcp: connection refused"), 0, true},
		{"backend not ready", nil, http.StatusTeapot, true},
		{"server error", nil, http.StatusInternalServerError, true},
		{"unauthorized", nil, http.StatusUnauthorized, false},
		{"success", nil, http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.status != 0 {
				resp = &http.Response{StatusCode: tt.status}
			}
			assert.Equal(t, tt.want, retryable(tt.err, resp))
		})
	}
}

func TestRetryLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := RetryLogger(zap.New(core))

	l.Info("retrying request", "attempt", 2)
	l.Warn("request failed, will retry", "status", 503)
	l.Error("request failed after all retries", "attempts", 3)

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, int64(503), entries[1].ContextMap()["status"])
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
}

func TestRenew_ExpiryPolicy(t *testing.T) {
	var setups, refreshes, refreshStatus atomic.Int32
	refreshStatus.Store(http.StatusOK)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case setupPath:
			setups.Add(1)
			writeJSON(w, http.StatusOK, issued("minted"))
		case refreshPath:
			refreshes.Add(1)
			if status := int(refreshStatus.Load()); status != http.StatusOK {
				writeJSON(w, status, errorResponse{Status: status, Message: "revoked"})
				return
			}
			writeJSON(w, http.StatusOK, issued("refreshed"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	b := newBroker(t, server.URL)

	t.Run("expired refresh lifetime mints", func(t *testing.T) {
		setups.Store(0)
		refreshes.Store(0)
		cur := issued("old")
		cur.RefreshExpiresAt = time.Now().Add(-time.Second).Unix()

		c, err := b.Renew(context.Background(), cur)
		require.NoError(t, err)
		require.Equal(t, "access-token-minted", c.AccessToken)
		require.Equal(t, int32(1), setups.Load())
		require.Zero(t, refreshes.Load())
	})

	t.Run("usable refresh token refreshes", func(t *testing.T) {
		setups.Store(0)
		refreshes.Store(0)

		c, err := b.Renew(context.Background(), issued("old"))
		require.NoError(t, err)
		require.Equal(t, "access-token-refreshed", c.AccessToken)
		require.Zero(t, setups.Load())
		require.Equal(t, int32(1), refreshes.Load())
	})

	t.Run("rejected refresh falls back to mint", func(t *testing.T) {
		setups.Store(0)
		refreshes.Store(0)
		refreshStatus.Store(http.StatusUnauthorized)
		defer refreshStatus.Store(http.StatusOK)

		c, err := b.Renew(context.Background(), issued("old"))
		require.NoError(t, err)
		require.Equal(t, "access-token-minted", c.AccessToken)
		require.Equal(t, int32(1), setups.Load())
		require.Equal(t, int32(1), refreshes.Load())
	})
}

func TestValidateCredentialResponse(t *testing.T) {
	now := time.Now()
	good := issued("ok")

	tests := []struct {
		name    string
		mutate  func(*credential.Credential)
		wantErr bool
	}{
		{"valid", func(*credential.Credential) {}, false},
		{"empty access token", func(c *credential.Credential) { c.AccessToken = "" }, true},
		{"short access token", func(c *credential.Credential) { c.AccessToken = "abc" }, true},
		{"access already expired", func(c *credential.Credential) { c.AccessExpiresAt = now.Add(-time.Second).Unix() }, true},
		{"refresh already expired", func(c *credential.Credential) { c.RefreshExpiresAt = now.Unix() }, true},
		{"missing refresh token", func(c *credential.Credential) { c.RefreshToken = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := good
			tt.mutate(&c)
			err := validateCredentialResponse(c, now)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateCredentialResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
