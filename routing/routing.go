// Package routing maps notification categories to chat channels.
package routing

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/go-authgate/ringbot/storage"
)

// Category is a kind of notification the bot sends.
type Category string

const (
	UserSubmit Category = "user_submit"
	AdSubmit   Category = "ad_submit"
	UserVerify Category = "user_verify"
	AdVerify   Category = "ad_verify"
	General    Category = "general"
	DMFallback Category = "dm_fallback"
)

// Categories lists every known category in display order.
var Categories = []Category{UserSubmit, AdSubmit, UserVerify, AdVerify, General, DMFallback}

// ErrUnknownCategory is returned by ParseCategory.
var ErrUnknownCategory = errors.New("unknown notification category")

// ParseCategory accepts a category name with or without the "_id" suffix.
func ParseCategory(s string) (Category, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "_id")
	for _, c := range Categories {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Key is the field name used in the persisted record.
func (c Category) Key() string {
	return string(c) + "_id"
}

// ChannelID is a chat platform channel snowflake. Zero means unset.
type ChannelID uint64

// ParseChannelID parses a decimal channel identifier.
func ParseChannelID(s string) (ChannelID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid channel id %q: %w", s, err)
	}
	return ChannelID(id), nil
}

func (id ChannelID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Store holds the category to channel mapping and persists every change.
type Store struct {
	file   *storage.JSONFile
	logger *zap.Logger

	mu       sync.RWMutex
	channels map[Category]ChannelID
}

// NewStore returns an empty Store persisting to path.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{
		file:     storage.NewJSONFile(path),
		logger:   logger,
		channels: make(map[Category]ChannelID),
	}
}

// Load reads the persisted mapping. A missing or unreadable file leaves every
// category unset.
func (s *Store) Load() {
	raw := make(map[string]uint64)
	if err := s.file.Read(&raw); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to load channel routing", zap.Error(err))
		}
		return
	}

	channels := make(map[Category]ChannelID, len(raw))
	for key, id := range raw {
		c, err := ParseCategory(key)
		if err != nil {
			s.logger.Warn("ignoring unknown routing entry", zap.String("key", key))
			continue
		}
		if id != 0 {
			channels[c] = ChannelID(id)
		}
	}

	s.mu.Lock()
	s.channels = channels
	s.mu.Unlock()
}

// Channel returns the channel for c. The boolean is false when the category
// is unset, which callers report instead of treating as an error.
func (s *Store) Channel(c Category) (ChannelID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.channels[c]
	return id, ok && id != 0
}

// Set routes c to id and persists the mapping. A zero id clears the category.
func (s *Store) Set(c Category, id ChannelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == 0 {
		delete(s.channels, c)
	} else {
		s.channels[c] = id
	}

	raw := make(map[string]uint64, len(s.channels))
	for cat, ch := range s.channels {
		raw[cat.Key()] = uint64(ch)
	}
	if err := s.file.Write(raw); err != nil {
		return fmt.Errorf("persist channel routing: %w", err)
	}
	return nil
}

// Entry is one row of Snapshot.
type Entry struct {
	Category Category
	Channel  ChannelID
	Set      bool
}

// Snapshot returns every category with its channel. Configured categories
// come first; within each group the order of Categories is kept.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(Categories))
	for _, c := range Categories {
		id, ok := s.channels[c]
		entries = append(entries, Entry{Category: c, Channel: id, Set: ok && id != 0})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Set && !entries[j].Set })
	return entries
}
