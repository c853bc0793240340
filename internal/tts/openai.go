package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ai-things/audio-go/internal/apierr"
	openai "github.com/sashabaranov/go-openai"
)

const DefaultOpenAIModel = "tts-1"

// OpenAI uses the speech endpoint through go-openai.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAI builds the client. baseURL is only set in tests or for compatible gateways.
func NewOpenAI(apiKey, defaultModel, baseURL string, httpClient *http.Client) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = clientOrDefault(httpClient)
	return &OpenAI{client: openai.NewClientWithConfig(cfg), defaultModel: defaultModel}
}

func (s *OpenAI) Name() string { return ProviderOpenAI }

func (s *OpenAI) Synthesize(ctx context.Context, req Request, w io.Writer) error {
	if strings.TrimSpace(req.Voice) == "" {
		return apierr.Validation("Missing required field 'voice' for openai")
	}
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(firstNonEmpty(req.Model, s.defaultModel, DefaultOpenAIModel)),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return classifyOpenAIError(ctx, err)
	}
	defer resp.Close()
	return writeAudio(ProviderOpenAI, audioBody{r: resp}, w)
}

func classifyOpenAIError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &apierr.StatusError{Provider: ProviderOpenAI, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &apierr.StatusError{Provider: ProviderOpenAI, StatusCode: reqErr.HTTPStatusCode, Message: snippet(reqErr.Body)}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("openai speech: %w", errors.Join(err, apierr.ErrTransport))
}
