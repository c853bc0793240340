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
	"github.com/spf13/cast"
)

const (
	DefaultWellSaidURL     = "https://api.wellsaidlabs.com/v1/tts/stream"
	DefaultWellSaidSpeaker = 3
	DefaultWellSaidModel   = "caruso"
)

// WellSaid streams from the WellSaid Labs TTS API. Keys come from the pool on every request.
type WellSaid struct {
	URL          string
	DefaultVoice int
	DefaultModel string
	HTTPClient   *http.Client
}

func (s *WellSaid) Name() string { return ProviderWellSaid }

type wellSaidRequest struct {
	Text      string `json:"text"`
	SpeakerID int    `json:"speaker_id"`
	Model     string `json:"model"`
}

func (s *WellSaid) Synthesize(ctx context.Context, req Request, w io.Writer) error {
	if strings.TrimSpace(req.APIKey) == "" {
		return fmt.Errorf("wellsaid: %w", apierr.ErrNoAvailableKey)
	}
	speaker := s.DefaultVoice
	if speaker == 0 {
		speaker = DefaultWellSaidSpeaker
	}
	if strings.TrimSpace(req.Voice) != "" {
		v, err := cast.ToIntE(strings.TrimSpace(req.Voice))
		if err != nil || v <= 0 {
			return apierr.Validation(fmt.Sprintf("Invalid WellSaid speaker id %q", req.Voice))
		}
		speaker = v
	}
	model := firstNonEmpty(req.Model, s.DefaultModel, DefaultWellSaidModel)

	body, err := json.Marshal(wellSaidRequest{Text: req.Text, SpeakerID: speaker, Model: model})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, firstNonEmpty(s.URL, DefaultWellSaidURL), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("wellsaid request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("X-Api-Key", req.APIKey)
	return do(ctx, clientOrDefault(s.HTTPClient), ProviderWellSaid, httpReq, w)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
