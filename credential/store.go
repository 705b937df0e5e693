package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/go-authgate/ringbot/storage"
)

// ErrPersist marks a credential that is installed in memory but could not be
// written to disk.
var ErrPersist = errors.New("persist credential")

// RenewFunc obtains a newer credential from the backend given the current one.
type RenewFunc func(ctx context.Context, cur Credential) (Credential, error)

// Store owns the in-memory credential and its persisted copy.
type Store struct {
	file   *storage.JSONFile
	logger *zap.Logger
	now    func() time.Time

	mu  sync.RWMutex
	cur Credential

	// renewing serializes renewals for the whole network round trip.
	renewing chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a Store persisting to path.
func NewStore(path string, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		file:     storage.NewJSONFile(path),
		logger:   logger,
		now:      time.Now,
		renewing: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the file the credential is persisted to.
func (s *Store) Path() string {
	return s.file.Path
}

// Load reads the persisted credential into memory. It never fails: a missing,
// corrupted or invalid file yields an empty credential and a log line.
func (s *Store) Load() Credential {
	var c Credential
	if err := s.file.Read(&c); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Info("no persisted credential", zap.String("path", s.file.Path))
		} else {
			s.logger.Warn("failed to load credential", zap.Error(err))
		}
		c = Credential{}
	} else if err := c.Validate(); err != nil {
		s.logger.Warn("discarding invalid persisted credential", zap.Error(err))
		c = Credential{}
	}

	s.mu.Lock()
	s.cur = c
	s.mu.Unlock()
	return c
}

// Get returns the current credential.
func (s *Store) Get() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set installs c and persists it before returning. The in-memory value is
// updated even when persisting fails so the running process keeps the newest
// pair; the error tells the caller the disk copy is stale.
func (s *Store) Set(c Credential) error {
	s.mu.Lock()
	s.cur = c
	s.mu.Unlock()

	if err := s.file.Write(c); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// Renew replaces stale with a newer credential obtained from fn.
//
// Only one renewal runs at a time. A caller that waited behind another
// renewal re-checks the store first: when the current credential is no
// longer the one it saw fail and its access token is still valid, that
// credential is returned and fn is not called.
//
// When fn fails the store is left unmodified.
func (s *Store) Renew(ctx context.Context, stale Credential, fn RenewFunc) (Credential, error) {
	select {
	case s.renewing <- struct{}{}:
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
	defer func() { <-s.renewing }()

	cur := s.Get()
	if cur != stale && cur.AccessUsable(s.now()) {
		return cur, nil
	}

	next, err := fn(ctx, cur)
	if err != nil {
		return Credential{}, err
	}
	if err := next.Validate(); err != nil {
		return Credential{}, fmt.Errorf("renewed credential rejected: %w", err)
	}

	if err := s.Set(next); err != nil {
		// next is live in memory; callers may keep using it
		s.logger.Error("renewed credential not persisted", zap.Error(err))
		return next, err
	}
	s.logger.Info("credential renewed",
		zap.String("access_token", next.Preview()),
		zap.Time("access_expires_at", time.Unix(next.AccessExpiresAt, 0)),
	)
	return next, nil
}
