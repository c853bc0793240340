// Package pipeline runs the audio operations end to end: chunking, per-chunk synthesis with
// retries and key rotation, batched scheduling, concatenation, probing, upload and cleanup.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/config"
	"ai-things/audio-go/internal/db"
	"ai-things/audio-go/internal/media"
	"ai-things/audio-go/internal/scratch"
	"ai-things/audio-go/internal/tts"
	"ai-things/audio-go/internal/utils"
)

// Operation names used for metrics and events.
const (
	OpGenerateChunk = "generate_chunk"
	OpConcatenate   = "concatenate"
	OpNarrate       = "narrate"
	OpSimpleAudio   = "simple_audio"
)

// KeyPool hands out vendor API keys. ClaimKey counts a use atomically; ReleaseKey undoes it.
type KeyPool interface {
	ClaimKey(ctx context.Context) (db.APIKey, error)
	ReleaseKey(ctx context.Context, key string) error
	RetireKey(ctx context.Context, key, reason string) error
}

type KeyAdmin interface {
	InsertKeys(ctx context.Context, keys []string) (int, error)
	KeyStats(ctx context.Context) (db.KeyStats, error)
}

type Uploader interface {
	Upload(ctx context.Context, localPath, key, contentType string) (string, error)
}

// Publisher matches queue.Client.
type Publisher interface {
	Publish(queueName string, payload []byte) error
}

// Profile is the per-provider chunking and rate-limit shape.
type Profile struct {
	ChunkMaxLength int
	BatchSize      int
	BatchDelay     time.Duration
	UsesKeyPool    bool
}

type Settings struct {
	Retry          apierr.RetryConfig
	Profiles       map[string]Profile
	DefaultProfile Profile
}

func SettingsFromConfig(cfg config.Config) Settings {
	p := cfg.Pipeline
	def := Profile{ChunkMaxLength: p.ChunkMaxLength, BatchSize: p.BatchSize, BatchDelay: p.BatchDelay}
	return Settings{
		Retry: apierr.RetryConfig{
			MaxRetries: p.MaxRetries,
			BaseDelay:  p.BaseDelay,
			Multiplier: p.Multiplier,
			MaxDelay:   p.MaxDelay,
		},
		DefaultProfile: def,
		Profiles: map[string]Profile{
			tts.ProviderWellSaid: {
				ChunkMaxLength: cfg.WellSaidChunkMaxLength,
				BatchSize:      p.BatchSize,
				BatchDelay:     p.BatchDelay,
				UsesKeyPool:    true,
			},
			tts.ProviderElevenLabs: {
				ChunkMaxLength: p.ElevenLabsChunkMaxLength,
				BatchSize:      p.BatchSize,
				BatchDelay:     p.BatchDelay,
			},
			tts.ProviderFishAudio: {
				ChunkMaxLength: p.ChunkMaxLength,
				BatchSize:      p.FishAudioBatchSize,
				BatchDelay:     p.FishAudioBatchDelay,
			},
		},
	}
}

func (s Settings) profile(provider string) Profile {
	if p, ok := s.Profiles[provider]; ok {
		return p
	}
	return s.DefaultProfile
}

// Service wires the pipeline's capabilities. Keys, KeyAdmin, Storage and Events may be nil;
// operations that need a missing capability fail with a descriptive error.
type Service struct {
	Keys     KeyPool
	KeyAdmin KeyAdmin
	Synths   *tts.Registry
	Media    *media.Tool
	Scratch  *scratch.Manager
	Storage  Uploader
	Events   Publisher

	EventsQueue string
	Hostname    string
	Settings    Settings
	Now         func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) upload(ctx context.Context, localPath, key, contentType string) (string, error) {
	if s.Storage == nil {
		return "", fmt.Errorf("object storage is not configured")
	}
	return s.Storage.Upload(ctx, localPath, key, contentType)
}

// AudioReadyEvent is published after a merged file reaches storage.
type AudioReadyEvent struct {
	Operation          string    `json:"operation"`
	AudioURL           string    `json:"audio_url"`
	CompressedAudioURL string    `json:"compressed_audio_url,omitempty"`
	SubtitlesURL       string    `json:"subtitles_url,omitempty"`
	Duration           float64   `json:"duration"`
	Chunks             int       `json:"chunks"`
	Provider           string    `json:"provider,omitempty"`
	UserID             string    `json:"user_id,omitempty"`
	SessionID          string    `json:"session_id,omitempty"`
	Hostname           string    `json:"hostname"`
	CreatedAt          time.Time `json:"created_at"`
}

// publish is best-effort: the audio is already stored, so a broker failure is only logged.
func (s *Service) publish(ev AudioReadyEvent) {
	if s.Events == nil || s.EventsQueue == "" {
		return
	}
	ev.Hostname = s.Hostname
	ev.CreatedAt = s.now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		utils.Warn("audio event encode failed", "operation", ev.Operation, "err", err)
		return
	}
	if err := s.Events.Publish(s.EventsQueue, payload); err != nil {
		utils.Warn("audio event publish failed", "queue", s.EventsQueue, "operation", ev.Operation, "err", err)
	}
}
