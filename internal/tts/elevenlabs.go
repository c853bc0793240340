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
	DefaultElevenLabsURL    = "https://api.elevenlabs.io"
	DefaultElevenLabsModel  = "eleven_multilingual_v2"
	DefaultElevenLabsFormat = "mp3_44100_128"

	// elevenLabsLanguageModel is the only model that accepts language_code.
	elevenLabsLanguageModel = "eleven_flash_v2_5"
)

type ElevenLabs struct {
	URL          string
	APIKey       string
	DefaultModel string
	OutputFormat string
	HTTPClient   *http.Client
}

func (s *ElevenLabs) Name() string { return ProviderElevenLabs }

type elevenLabsRequest struct {
	Text         string `json:"text"`
	ModelID      string `json:"model_id"`
	LanguageCode string `json:"language_code,omitempty"`
}

func (s *ElevenLabs) Synthesize(ctx context.Context, req Request, w io.Writer) error {
	if strings.TrimSpace(req.Voice) == "" {
		return apierr.Validation("Missing required field 'elevenLabsVoiceId' for ElevenLabs")
	}
	if s.APIKey == "" {
		return fmt.Errorf("elevenlabs: api_key must be configured: %w", apierr.ErrValidation)
	}
	model := firstNonEmpty(req.Model, s.DefaultModel, DefaultElevenLabsModel)
	payload := elevenLabsRequest{Text: req.Text, ModelID: model}
	if model == elevenLabsLanguageModel {
		payload.LanguageCode = strings.TrimSpace(req.Language)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(firstNonEmpty(s.URL, DefaultElevenLabsURL), "/") +
		"/v1/text-to-speech/" + url.PathEscape(req.Voice) +
		"?output_format=" + url.QueryEscape(firstNonEmpty(s.OutputFormat, DefaultElevenLabsFormat))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("elevenlabs request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", s.APIKey)
	return do(ctx, clientOrDefault(s.HTTPClient), ProviderElevenLabs, httpReq, w)
}
