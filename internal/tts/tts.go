// Package tts talks to the text-to-speech vendors. Every adapter streams audio into an io.Writer
// and classifies failures into the apierr taxonomy so the pipeline can decide whether to retry,
// rotate keys or give up.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/utils"
)

// Provider names accepted on the wire.
const (
	ProviderWellSaid   = "wellsaid"
	ProviderMiniMax    = "minimax"
	ProviderElevenLabs = "elevenlabs"
	ProviderOpenAI     = "openai"
	ProviderFishAudio  = "fish-audio"
	ProviderGoogle     = "google-tts"
)

// Request is one synthesis call. APIKey is only read by providers backed by the key pool.
type Request struct {
	Text     string
	Voice    string
	Model    string
	Language string
	APIKey   string
}

// Synthesizer writes the audio for req into w. A partial write followed by an error is possible;
// callers discard the destination on error.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request, w io.Writer) error
}

// Registry resolves a provider name to its synthesizer.
type Registry struct {
	synths map[string]Synthesizer
}

func NewRegistry(synths ...Synthesizer) *Registry {
	r := &Registry{synths: map[string]Synthesizer{}}
	for _, s := range synths {
		if s == nil {
			continue
		}
		r.synths[s.Name()] = s
	}
	return r
}

// Get returns an ErrValidation for unknown or unconfigured providers.
func (r *Registry) Get(name string) (Synthesizer, error) {
	s, ok := r.synths[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, apierr.Validation(fmt.Sprintf("Unsupported provider: %s", name))
	}
	return s, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.synths))
	for name := range r.synths {
		out = append(out, name)
	}
	return out
}

// NewHTTPClient returns a client whose outbound requests are logged in verbose mode.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: loggingRoundTripper{base: http.DefaultTransport},
	}
}

type loggingRoundTripper struct {
	base http.RoundTripper
}

func (t loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if !utils.Verbose {
		return base.RoundTrip(req)
	}
	start := time.Now()
	resp, err := base.RoundTrip(req)
	dur := time.Since(start)
	if err != nil {
		utils.Warn("http outbound error", "method", req.Method, "url", req.URL.Redacted(), "dur", dur.Truncate(time.Millisecond).String(), "err", err)
		return nil, err
	}
	// Never log request headers/body; they carry vendor keys.
	utils.Debug("http outbound", "method", req.Method, "url", req.URL.Redacted(), "status", resp.StatusCode, "dur", dur.Truncate(time.Millisecond).String())
	return resp, nil
}

func clientOrDefault(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return NewHTTPClient(2 * time.Minute)
}

// do sends req and hands the response to decode. Network failures become ErrTransport unless the
// caller's context ended.
func do(ctx context.Context, client *http.Client, provider string, req *http.Request, w io.Writer) error {
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s request: %w", provider, errors.Join(err, apierr.ErrTransport))
	}
	defer resp.Body.Close()
	return decode(provider, resp, w)
}
