package db

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ai-things/audio-go/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeys(t *testing.T) {
	t.Parallel()

	got := ParseKeys("  key-a \r\n\nkey-b\nkey-a\n   \nkey-c")
	assert.Equal(t, []string{"key-a", "key-b", "key-c"}, got)
	assert.Empty(t, ParseKeys("\n \n"))
	assert.Equal(t, []string{"key-d"}, ParseKeys("# wellsaid batch 3\nkey-d"))
}

func TestRoundUsage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 12.35, RoundUsage(12.3456))
	assert.Equal(t, 0.0, RoundUsage(0))
	assert.Equal(t, 16.67, RoundUsage(50.0/3))
}

// openTestStore connects to AUDIO_TEST_DATABASE_URL and resets the key table. The database must
// be disposable.
func openTestStore(t *testing.T, ceiling int) *Store {
	t.Helper()
	url := os.Getenv("AUDIO_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("AUDIO_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewStore(ctx, url, ceiling)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "001_api_keys_profiles.sql"))
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, string(schema))
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `TRUNCATE api_keys_profiles`)
	require.NoError(t, err)
	return s
}

func keyRow(t *testing.T, s *Store, key string) (useCount int, valid bool, reason *string) {
	t.Helper()
	err := s.pool.QueryRow(context.Background(),
		`SELECT use_count, is_valid, invalid_reason FROM api_keys_profiles WHERE api_key = $1`, key,
	).Scan(&useCount, &valid, &reason)
	require.NoError(t, err)
	return useCount, valid, reason
}

// Store tests share one table, so they run sequentially.

func TestStore_InsertKeysSkipsDuplicates(t *testing.T) {
	s := openTestStore(t, 50)
	ctx := context.Background()

	n, err := s.InsertKeys(ctx, []string{"k1", "k2"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.InsertKeys(ctx, []string{"k2", "k3"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_ClaimReachingCeilingRetires(t *testing.T) {
	s := openTestStore(t, 3)
	ctx := context.Background()
	_, err := s.InsertKeys(ctx, []string{"only"})
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `UPDATE api_keys_profiles SET use_count = 2 WHERE api_key = 'only'`)
	require.NoError(t, err)

	k, err := s.ClaimKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "only", k.Key)
	assert.Equal(t, 3, k.UseCount)
	assert.False(t, k.IsValid)

	_, valid, reason := keyRow(t, s, "only")
	assert.False(t, valid)
	require.NotNil(t, reason)
	assert.Equal(t, ReasonUsageCeiling, *reason)

	_, err = s.ClaimKey(ctx)
	assert.ErrorIs(t, err, apierr.ErrNoAvailableKey)
}

func TestStore_ReleaseRestoresCeilingRetirement(t *testing.T) {
	s := openTestStore(t, 1)
	ctx := context.Background()
	_, err := s.InsertKeys(ctx, []string{"k"})
	require.NoError(t, err)

	k, err := s.ClaimKey(ctx)
	require.NoError(t, err)
	assert.False(t, k.IsValid)

	require.NoError(t, s.ReleaseKey(ctx, k.Key))
	count, valid, reason := keyRow(t, s, "k")
	assert.Equal(t, 0, count)
	assert.True(t, valid)
	assert.Nil(t, reason)
}

func TestStore_RetireIsPermanent(t *testing.T) {
	s := openTestStore(t, 50)
	ctx := context.Background()
	_, err := s.InsertKeys(ctx, []string{"k"})
	require.NoError(t, err)

	k, err := s.ClaimKey(ctx)
	require.NoError(t, err)
	require.NoError(t, s.RetireKey(ctx, k.Key, ReasonAuthFailure))
	require.NoError(t, s.ReleaseKey(ctx, k.Key))

	_, valid, reason := keyRow(t, s, "k")
	assert.False(t, valid)
	require.NotNil(t, reason)
	assert.Equal(t, ReasonAuthFailure, *reason)
}

func TestStore_ConcurrentClaimsNeverExceedCeiling(t *testing.T) {
	s := openTestStore(t, 5)
	ctx := context.Background()
	_, err := s.InsertKeys(ctx, []string{"a", "b"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimKey(ctx); err == nil {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, claimed, 10)
	for _, k := range []string{"a", "b"} {
		count, _, _ := keyRow(t, s, k)
		assert.LessOrEqual(t, count, 5)
	}
}

func TestStore_KeyStats(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	_, err := s.InsertKeys(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `UPDATE api_keys_profiles SET use_count = 2, is_valid = FALSE WHERE api_key = 'a'`)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `UPDATE api_keys_profiles SET use_count = 1 WHERE api_key = 'b'`)
	require.NoError(t, err)

	st, err := s.KeyStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, KeyStats{ValidCount: 2, InvalidCount: 1, TotalCount: 3, UsageLimitReached: 1, AverageUsage: 1}, st)
}
