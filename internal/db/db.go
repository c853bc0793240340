package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Reasons recorded in api_keys_profiles.invalid_reason.
const (
	ReasonUsageCeiling = "usage_ceiling"
	ReasonAuthFailure  = "auth_failure"
)

const DefaultUsageCeiling = 50

type Store struct {
	pool    *pgxpool.Pool
	ceiling int
}

type APIKey struct {
	Key      string
	UseCount int
	IsValid  bool
}

type KeyStats struct {
	ValidCount        int
	InvalidCount      int
	TotalCount        int
	UsageLimitReached int
	AverageUsage      float64
}

func NewStore(ctx context.Context, connString string, usageCeiling int) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if usageCeiling <= 0 {
		usageCeiling = DefaultUsageCeiling
	}
	return &Store{pool: pool, ceiling: usageCeiling}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) UsageCeiling() int { return s.ceiling }

// ClaimKey picks the least-used valid key and counts one use against it in a single statement.
// SKIP LOCKED keeps concurrent claimers from queueing on the same row. The use that reaches the
// ceiling also retires the key.
func (s *Store) ClaimKey(ctx context.Context) (APIKey, error) {
	utils.Debug("db claim api key", "ceiling", s.ceiling)
	var k APIKey
	err := s.pool.QueryRow(ctx, `
		UPDATE api_keys_profiles
		SET use_count = use_count + 1,
			is_valid = (use_count + 1) < $1,
			invalid_reason = CASE WHEN (use_count + 1) >= $1 THEN $2 ELSE invalid_reason END,
			last_used_at = NOW(),
			updated_at = NOW()
		WHERE api_key = (
			SELECT api_key
			FROM api_keys_profiles
			WHERE is_valid AND use_count < $1
			ORDER BY use_count, api_key
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING api_key, use_count, is_valid
	`, s.ceiling, ReasonUsageCeiling).Scan(&k.Key, &k.UseCount, &k.IsValid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return APIKey{}, apierr.ErrNoAvailableKey
		}
		return APIKey{}, fmt.Errorf("claim api key: %w", err)
	}
	utils.Debug("db claimed api key", "key", utils.RedactKey(k.Key), "use_count", k.UseCount, "is_valid", k.IsValid)
	return k, nil
}

// ReleaseKey gives back a use whose vendor call failed for reasons unrelated to the key. A key
// that the released use had pushed over the ceiling becomes valid again; auth retirements stay.
func (s *Store) ReleaseKey(ctx context.Context, key string) error {
	utils.Debug("db release api key", "key", utils.RedactKey(key))
	_, err := s.pool.Exec(ctx, `
		UPDATE api_keys_profiles
		SET use_count = GREATEST(use_count - 1, 0),
			is_valid = CASE
				WHEN invalid_reason = $2 AND GREATEST(use_count - 1, 0) < $3 THEN TRUE
				ELSE is_valid
			END,
			invalid_reason = CASE
				WHEN invalid_reason = $2 AND GREATEST(use_count - 1, 0) < $3 THEN NULL
				ELSE invalid_reason
			END,
			updated_at = NOW()
		WHERE api_key = $1
	`, key, ReasonUsageCeiling, s.ceiling)
	return err
}

// RetireKey marks a key permanently unusable.
func (s *Store) RetireKey(ctx context.Context, key, reason string) error {
	utils.Debug("db retire api key", "key", utils.RedactKey(key), "reason", reason)
	_, err := s.pool.Exec(ctx, `
		UPDATE api_keys_profiles
		SET is_valid = FALSE, invalid_reason = $2, updated_at = NOW()
		WHERE api_key = $1
	`, key, reason)
	return err
}

// InsertKeys adds new keys as valid with zero usage. Existing keys are left untouched; the
// returned count only includes rows that were actually inserted.
func (s *Store) InsertKeys(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	utils.Debug("db insert api keys", "count", len(keys))
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys_profiles (api_key, is_valid, use_count, created_at, updated_at)
		SELECT DISTINCT k, TRUE, 0, NOW(), NOW()
		FROM unnest($1::text[]) AS k
		ON CONFLICT (api_key) DO NOTHING
	`, keys)
	if err != nil {
		return 0, fmt.Errorf("insert api keys: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) KeyStats(ctx context.Context) (KeyStats, error) {
	utils.Debug("db api key stats", "ceiling", s.ceiling)
	var st KeyStats
	var avg float64
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE is_valid),
			COUNT(*) FILTER (WHERE NOT is_valid),
			COUNT(*),
			COUNT(*) FILTER (WHERE use_count >= $1),
			COALESCE(AVG(use_count), 0)::float8
		FROM api_keys_profiles
	`, s.ceiling).Scan(&st.ValidCount, &st.InvalidCount, &st.TotalCount, &st.UsageLimitReached, &avg)
	if err != nil {
		return KeyStats{}, fmt.Errorf("api key stats: %w", err)
	}
	st.AverageUsage = RoundUsage(avg)
	return st, nil
}

// RoundUsage rounds to two decimals.
func RoundUsage(v float64) float64 {
	return math.Round(v*100) / 100
}

// ParseKeys splits an uploaded blob into keys: one per line, trimmed. Blank lines, # comments and
// repeats are dropped.
func ParseKeys(text string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		key := strings.TrimSpace(line)
		if key == "" || strings.HasPrefix(key, "#") {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// PurgeRetired deletes keys retired longer than olderThan ago. Used by maintenance tooling.
func (s *Store) PurgeRetired(ctx context.Context, olderThan time.Duration) (int, error) {
	utils.Debug("db purge retired api keys", "older_than", olderThan.String())
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM api_keys_profiles
		WHERE NOT is_valid AND updated_at < NOW() - make_interval(secs => $1)
	`, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
