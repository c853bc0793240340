package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ai-things/audio-go/internal/apierr"
)

type googleSynthesizeFunc func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)

// Google wraps the Cloud Text-to-Speech client.
type Google struct {
	synthesize googleSynthesizeFunc
	close      func() error
}

// NewGoogle dials the API. An empty credentialsFile falls back to application default credentials.
func NewGoogle(ctx context.Context, credentialsFile string) (*Google, error) {
	var opts []option.ClientOption
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google tts client: %w", err)
	}
	return &Google{
		synthesize: func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
			return client.SynthesizeSpeech(ctx, req)
		},
		close: client.Close,
	}, nil
}

func (s *Google) Name() string { return ProviderGoogle }

func (s *Google) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func (s *Google) Synthesize(ctx context.Context, req Request, w io.Writer) error {
	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		return apierr.Validation("Missing required field 'googleTtsVoiceName' for Google TTS")
	}
	lang := firstNonEmpty(req.Language, languageFromVoice(voice))
	if lang == "" {
		return apierr.Validation("Missing languageCode for Google TTS")
	}

	resp, err := s.synthesize(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: req.Text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: lang,
			Name:         voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	})
	if err != nil {
		return classifyGoogleError(ctx, err)
	}
	return writeBytes(ProviderGoogle, resp.GetAudioContent(), w)
}

// languageFromVoice reads "en-US" out of voice names like "en-US-Neural2-F".
func languageFromVoice(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) < 3 || len(parts[0]) < 2 || len(parts[1]) < 2 {
		return ""
	}
	return parts[0] + "-" + parts[1]
}

func classifyGoogleError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("google tts: %w", errors.Join(err, apierr.ErrTransport))
	}
	code := http.StatusBadGateway
	switch st.Code() {
	case codes.Unauthenticated:
		code = http.StatusUnauthorized
	case codes.PermissionDenied:
		code = http.StatusForbidden
	case codes.ResourceExhausted:
		code = http.StatusTooManyRequests
	case codes.InvalidArgument:
		return apierr.Validation(fmt.Sprintf("Google TTS rejected the request: %s", st.Message()))
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("google tts %s: %w", st.Code(), apierr.ErrTransport)
	}
	return &apierr.StatusError{Provider: ProviderGoogle, StatusCode: code, Message: st.Message()}
}
