package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/metrics"
	"ai-things/audio-go/internal/tts"
	"ai-things/audio-go/internal/utils"
)

type SimpleRequest struct {
	Text     string
	Provider string
	Voice    string
	Model    string
	Language string
}

type SimpleResult struct {
	AudioURL string
	Provider string
	Voice    string
	Model    string
}

var simpleDefaultModels = map[string]string{
	tts.ProviderMiniMax:    tts.DefaultMiniMaxModel,
	tts.ProviderElevenLabs: tts.DefaultElevenLabsModel,
}

// SimpleAudio synthesizes a short text in one call and returns it inline as a data URL.
func (s *Service) SimpleAudio(ctx context.Context, in SimpleRequest) (res SimpleResult, err error) {
	start := s.now()
	defer func() { metrics.ObservePipeline(OpSimpleAudio, start, err) }()

	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if strings.TrimSpace(in.Text) == "" || provider == "" || strings.TrimSpace(in.Voice) == "" {
		return SimpleResult{}, apierr.Validation("Missing required fields: text, provider, voice")
	}
	defaultModel, ok := simpleDefaultModels[provider]
	if !ok {
		return SimpleResult{}, apierr.Validation(fmt.Sprintf("Unsupported provider: %s. Only 'minimax' and 'elevenlabs' are supported.", in.Provider))
	}
	synth, err := s.Synths.Get(provider)
	if err != nil {
		return SimpleResult{}, err
	}

	req := tts.Request{Text: in.Text, Voice: in.Voice, Model: in.Model, Language: in.Language}
	retry := s.Settings.Retry
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		utils.Warn("simple audio retry", "provider", provider, "attempt", attempt, "delay", delay.String(), "err", err)
	}
	audio, attempts, err := apierr.RetryWithBackoff(ctx, retry, func(ctx context.Context, attempt int) ([]byte, error) {
		var buf bytes.Buffer
		if err := synth.Synthesize(ctx, req, &buf); err != nil {
			metrics.ChunkAttempt(provider, outcome(err))
			return nil, err
		}
		metrics.ChunkAttempt(provider, metrics.OutcomeSuccess)
		return buf.Bytes(), nil
	}, apierr.IsRetryable)
	if err != nil {
		return SimpleResult{}, &apierr.ChunkError{Index: 0, Attempts: attempts, Err: err}
	}
	utils.Info("simple audio done", "provider", provider, "bytes", len(audio), "attempts", attempts)

	model := in.Model
	if model == "" {
		model = defaultModel
	}
	return SimpleResult{
		AudioURL: "data:audio/mp3;base64," + base64.StdEncoding.EncodeToString(audio),
		Provider: provider,
		Voice:    in.Voice,
		Model:    model,
	}, nil
}
