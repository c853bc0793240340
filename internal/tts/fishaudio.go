package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ai-things/audio-go/internal/apierr"
)

const (
	DefaultFishAudioURL   = "https://api.fish.audio/v1/tts"
	DefaultFishAudioModel = "speech-1.6"
)

type FishAudio struct {
	URL          string
	APIKey       string
	DefaultModel string
	HTTPClient   *http.Client
}

func (s *FishAudio) Name() string { return ProviderFishAudio }

type fishAudioRequest struct {
	Text        string `json:"text"`
	ChunkLength int    `json:"chunk_length"`
	Format      string `json:"format"`
	MP3Bitrate  int    `json:"mp3_bitrate"`
	ReferenceID string `json:"reference_id"`
	Normalize   bool   `json:"normalize"`
	Latency     string `json:"latency"`
}

func (s *FishAudio) Synthesize(ctx context.Context, req Request, w io.Writer) error {
	if strings.TrimSpace(req.Voice) == "" {
		return apierr.Validation("Missing required field 'fishAudioVoiceId' for Fish Audio")
	}
	if s.APIKey == "" {
		return fmt.Errorf("fish-audio: api_key must be configured: %w", apierr.ErrValidation)
	}
	body, err := json.Marshal(fishAudioRequest{
		Text:        req.Text,
		ChunkLength: 200,
		Format:      "mp3",
		MP3Bitrate:  128,
		ReferenceID: req.Voice,
		Normalize:   true,
		Latency:     "normal",
	})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, firstNonEmpty(s.URL, DefaultFishAudioURL), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("fish-audio request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.APIKey)
	httpReq.Header.Set("Model", firstNonEmpty(req.Model, s.DefaultModel, DefaultFishAudioModel))
	return do(ctx, clientOrDefault(s.HTTPClient), ProviderFishAudio, httpReq, w)
}
