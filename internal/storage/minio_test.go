package storage

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicURL(t *testing.T) {
	t.Parallel()

	cfg := Config{Endpoint: "minio.local:9000", Bucket: "audio"}
	assert.Equal(t, "http://minio.local:9000/audio/a/b.mp3", PublicURL(cfg, "a/b.mp3"))

	cfg.UseSSL = true
	assert.Equal(t, "https://minio.local:9000/audio/a/b.mp3", PublicURL(cfg, "a/b.mp3"))

	cfg.BaseURL = "https://cdn.example.com/"
	assert.Equal(t, "https://cdn.example.com/a/b.mp3", PublicURL(cfg, "a/b.mp3"))
}

func TestFinalAudioKey(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "audio/final/1700000000123-final-s1.mp3", FinalAudioKey(now, "/tmp/wellsaid-audio/s1/final-s1.mp3"))
}

func TestNewNarrationKeys(t *testing.T) {
	t.Parallel()

	k := NewNarrationKeys("42")
	re := regexp.MustCompile(`^user_42/audio/([0-9a-f-]{36})\.mp3$`)
	m := re.FindStringSubmatch(k.Audio)
	require.Len(t, m, 2)
	assert.Equal(t, "user_42/audio/compressed/"+m[1]+".mp3", k.Compressed)
	assert.Equal(t, "user_42/audio/subtitles/"+m[1]+".srt", k.Subtitles)

	assert.Contains(t, NewNarrationKeys("").Audio, "user_unknown_user/")
	assert.Contains(t, NewNarrationKeys("../etc").Audio, "user____etc/")
}

func TestSubtitlesKeyFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "audio/final/1-final.srt", SubtitlesKeyFor("audio/final/1-final.mp3"))
}

func TestNewMinioStore_RequiresEndpointAndBucket(t *testing.T) {
	t.Parallel()

	_, err := NewMinioStore(Config{Bucket: "audio"})
	assert.Error(t, err)
	_, err = NewMinioStore(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	s, err := NewMinioStore(Config{Endpoint: "localhost:9000", Bucket: "audio"})
	require.NoError(t, err)
	assert.NotNil(t, s)
}
