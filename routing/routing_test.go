package routing

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStore_UnsetIsDistinct(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "routing.json"), zap.NewNop())
	s.Load()

	for _, c := range Categories {
		id, ok := s.Channel(c)
		require.False(t, ok, c)
		require.Zero(t, id)
	}
}

func TestStore_SetPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.json")
	s := NewStore(path, zap.NewNop())

	require.NoError(t, s.Set(UserSubmit, 1234567890123))
	require.NoError(t, s.Set(DMFallback, 42))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]uint64
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Equal(t, map[string]uint64{"user_submit_id": 1234567890123, "dm_fallback_id": 42}, raw)

	reloaded := NewStore(path, zap.NewNop())
	reloaded.Load()
	id, ok := reloaded.Channel(UserSubmit)
	require.True(t, ok)
	require.Equal(t, ChannelID(1234567890123), id)

	_, ok = reloaded.Channel(AdSubmit)
	require.False(t, ok)
}

func TestStore_ZeroClearsCategory(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "routing.json"), zap.NewNop())
	require.NoError(t, s.Set(General, 7))
	require.NoError(t, s.Set(General, 0))

	_, ok := s.Channel(General)
	require.False(t, ok)
}

func TestStore_LoadIgnoresZeroAndUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"user_verify_id": 0, "general_id": 9, "legacy_id": 3}`), 0o600))

	s := NewStore(path, zap.NewNop())
	s.Load()

	_, ok := s.Channel(UserVerify)
	require.False(t, ok)
	id, ok := s.Channel(General)
	require.True(t, ok)
	require.Equal(t, ChannelID(9), id)
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
		err  bool
	}{
		{"user_submit", UserSubmit, false},
		{"ad_verify_id", AdVerify, false},
		{" DM_Fallback ", DMFallback, false},
		{"nope", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if tt.err {
			require.True(t, errors.Is(err, ErrUnknownCategory), tt.in)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

func TestSnapshot_SetFirst(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "routing.json"), zap.NewNop())
	require.NoError(t, s.Set(DMFallback, 5))
	require.NoError(t, s.Set(AdSubmit, 6))

	var order []Category
	for _, e := range s.Snapshot() {
		order = append(order, e.Category)
	}
	require.Equal(t, []Category{AdSubmit, DMFallback, UserSubmit, UserVerify, AdVerify, General}, order)

	entries := s.Snapshot()
	require.True(t, entries[1].Set)
	require.False(t, entries[2].Set)
}
