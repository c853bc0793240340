package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ai-things/audio-go/internal/apierr"
)

const (
	DefaultMiniMaxURL   = "https://api.minimaxi.chat/v1/t2a_v2"
	DefaultMiniMaxModel = "speech-02-hd"
)

// MiniMax calls the t2a_v2 endpoint, which answers with hex audio inside a JSON envelope.
type MiniMax struct {
	URL          string
	GroupID      string
	APIKey       string
	DefaultModel string
	HTTPClient   *http.Client
}

func (s *MiniMax) Name() string { return ProviderMiniMax }

type miniMaxVoiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Vol     float64 `json:"vol"`
	Pitch   int     `json:"pitch"`
}

type miniMaxAudioSetting struct {
	SampleRate int    `json:"sample_rate"`
	Bitrate    int    `json:"bitrate"`
	Format     string `json:"format"`
	Channel    int    `json:"channel"`
}

type miniMaxRequest struct {
	Model          string              `json:"model"`
	Text           string              `json:"text"`
	Stream         bool                `json:"stream"`
	SubtitleEnable bool                `json:"subtitle_enable"`
	VoiceSetting   miniMaxVoiceSetting `json:"voice_setting"`
	AudioSetting   miniMaxAudioSetting `json:"audio_setting"`
}

func (s *MiniMax) Synthesize(ctx context.Context, req Request, w io.Writer) error {
	if strings.TrimSpace(req.Voice) == "" {
		return apierr.Validation("Missing required field 'voice' for minimax")
	}
	if s.APIKey == "" || s.GroupID == "" {
		return fmt.Errorf("minimax: api_key and group_id must be configured: %w", apierr.ErrValidation)
	}

	body, err := json.Marshal(miniMaxRequest{
		Model:        firstNonEmpty(req.Model, s.DefaultModel, DefaultMiniMaxModel),
		Text:         req.Text,
		VoiceSetting: miniMaxVoiceSetting{VoiceID: req.Voice, Speed: 1, Vol: 1, Pitch: 0},
		AudioSetting: miniMaxAudioSetting{SampleRate: 32000, Bitrate: 128000, Format: "mp3", Channel: 1},
	})
	if err != nil {
		return err
	}
	endpoint := firstNonEmpty(s.URL, DefaultMiniMaxURL) + "?GroupId=" + url.QueryEscape(s.GroupID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("minimax request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.APIKey)
	return do(ctx, clientOrDefault(s.HTTPClient), ProviderMiniMax, httpReq, w)
}
