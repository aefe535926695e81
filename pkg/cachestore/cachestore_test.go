package cachestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, ttl time.Duration, maxSize int64) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path, ttl, maxSize)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGet_RoundTrip(t *testing.T) {
	s := openTestStore(t, time.Hour, 0)
	key := Key("hello", "digest1", "gpt-4o-mini")
	require.NoError(t, s.Put(key, "bonjour"))

	entry, hit := s.Get(key)
	require.True(t, hit)
	assert.Equal(t, "bonjour", entry.Translation)
	assert.Equal(t, int64(1), s.Stats().Hits)
}

func TestGet_MissOnUnknownKey(t *testing.T) {
	s := openTestStore(t, time.Hour, 0)
	_, hit := s.Get(Key("nope", "d", "m"))
	assert.False(t, hit)
	assert.Equal(t, int64(1), s.Stats().Misses)
}

func TestGet_ExpiredEntryTreatedAsMiss(t *testing.T) {
	s := openTestStore(t, time.Nanosecond, 0)
	key := Key("hello", "d", "m")
	require.NoError(t, s.Put(key, "bonjour"))
	time.Sleep(time.Millisecond)

	_, hit := s.Get(key)
	assert.False(t, hit)
}

func TestKey_DiffersByModelOrGlossaryDigest(t *testing.T) {
	k1 := Key("hello", "digest1", "model-a")
	k2 := Key("hello", "digest1", "model-b")
	k3 := Key("hello", "digest2", "model-a")
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestPut_EvictsLRUWhenOverSizeCap(t *testing.T) {
	s := openTestStore(t, time.Hour, 5) // tiny cap, forces eviction
	require.NoError(t, s.Put("k1", "aaaaa"))
	require.NoError(t, s.Put("k2", "bbbbb"))

	_, hit1 := s.Get("k1")
	_, hit2 := s.Get("k2")
	assert.False(t, hit1)
	assert.True(t, hit2)
	assert.GreaterOrEqual(t, s.Stats().Evictions, int64(1))
}

func TestPut_UpdateExistingKeyAdjustsSize(t *testing.T) {
	s := openTestStore(t, time.Hour, 0)
	require.NoError(t, s.Put("k1", "short"))
	require.NoError(t, s.Put("k1", "a much longer replacement value"))

	entry, hit := s.Get("k1")
	require.True(t, hit)
	assert.Equal(t, "a much longer replacement value", entry.Translation)
}
