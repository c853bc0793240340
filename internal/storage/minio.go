// Package storage publishes finished audio to S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"ai-things/audio-go/internal/utils"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// BaseURL is the public origin objects are served from. Empty means endpoint/bucket/key.
	BaseURL string
}

type MinioStore struct {
	cfg    Config
	client *minio.Client

	mu          sync.Mutex
	bucketReady bool
}

func NewMinioStore(cfg Config) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("storage endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("storage bucket is required")
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStore{cfg: cfg, client: cli}, nil
}

func (m *MinioStore) ensureBucket(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bucketReady {
		return nil
	}
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		utils.Info("storage creating bucket", "bucket", m.cfg.Bucket)
		if err := m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	m.bucketReady = true
	return nil
}

// Upload copies localPath to key and returns the object's public URL.
func (m *MinioStore) Upload(ctx context.Context, localPath, key, contentType string) (string, error) {
	if err := m.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket %s: %w", m.cfg.Bucket, err)
	}
	start := time.Now()
	info, err := m.client.FPutObject(ctx, m.cfg.Bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	utils.Info("storage uploaded", "key", key, "bytes", info.Size, "dur", time.Since(start).Truncate(time.Millisecond).String())
	return PublicURL(m.cfg, key), nil
}

func PublicURL(cfg Config, key string) string {
	if cfg.BaseURL != "" {
		return strings.TrimRight(cfg.BaseURL, "/") + "/" + key
	}
	scheme := "http://"
	if cfg.UseSSL {
		scheme = "https://"
	}
	return scheme + cfg.Endpoint + "/" + cfg.Bucket + "/" + key
}

// FinalAudioKey names a merged chunk set: audio/final/<unix-ms>-<file>.
func FinalAudioKey(now time.Time, localPath string) string {
	return fmt.Sprintf("audio/final/%d-%s", now.UnixMilli(), filepath.Base(localPath))
}

// NarrationKeys names the objects of one narration under the user's prefix.
type NarrationKeys struct {
	Audio      string
	Compressed string
	Subtitles  string
}

func NewNarrationKeys(userID string) NarrationKeys {
	userID = unsafeKeyChars.ReplaceAllString(strings.TrimSpace(userID), "_")
	if userID == "" {
		userID = "unknown_user"
	}
	id := uuid.NewString()
	prefix := "user_" + userID + "/audio/"
	return NarrationKeys{
		Audio:      prefix + id + ".mp3",
		Compressed: prefix + "compressed/" + id + ".mp3",
		Subtitles:  prefix + "subtitles/" + id + ".srt",
	}
}

// SubtitlesKeyFor derives the .srt key that sits beside an audio key.
func SubtitlesKeyFor(audioKey string) string {
	return strings.TrimSuffix(audioKey, filepath.Ext(audioKey)) + ".srt"
}
