package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/db"
	"ai-things/audio-go/internal/media"
	"ai-things/audio-go/internal/pipeline"
	"ai-things/audio-go/internal/scratch"
	"ai-things/audio-go/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSynth struct {
	name  string
	calls int
}

func (f *failingSynth) Name() string { return f.name }

func (f *failingSynth) Synthesize(context.Context, tts.Request, io.Writer) error {
	f.calls++
	return &apierr.StatusError{Provider: f.name, StatusCode: http.StatusBadGateway, Message: "upstream down"}
}

type fakeAdmin struct {
	inserted []string
	stats    db.KeyStats
}

func (f *fakeAdmin) InsertKeys(_ context.Context, keys []string) (int, error) {
	f.inserted = append(f.inserted, keys...)
	return len(keys), nil
}

func (f *fakeAdmin) KeyStats(context.Context) (db.KeyStats, error) { return f.stats, nil }

func newTestService(t *testing.T, synths ...tts.Synthesizer) *pipeline.Service {
	t.Helper()
	prof := pipeline.Profile{ChunkMaxLength: 950, BatchSize: 3}
	pooled := prof
	pooled.UsesKeyPool = true
	return &pipeline.Service{
		Synths:  tts.NewRegistry(synths...),
		Media:   media.NewTool(media.ExecRunner{}, "ffmpeg", "ffprobe", 1),
		Scratch: scratch.NewManager(t.TempDir()),
		Settings: pipeline.Settings{
			Retry:          apierr.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond},
			DefaultProfile: prof,
			Profiles:       map[string]pipeline.Profile{tts.ProviderWellSaid: pooled},
		},
	}
}

func newTestRouter(t *testing.T, svc *pipeline.Service, opts routerOptions) http.Handler {
	t.Helper()
	h, err := newRouter(svc, opts)
	require.NoError(t, err)
	return h
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t, newTestService(t), routerOptions{Ready: func(context.Context) error { return nil }})
	rec := do(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	down := newTestRouter(t, newTestService(t), routerOptions{Ready: func(context.Context) error { return errors.New("db down") }})
	rec = do(down, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, newTestService(t), routerOptions{})
	rec := do(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateChunk_NoKeysIsBadRequest(t *testing.T) {
	svc := newTestService(t, &tts.WellSaid{URL: "http://127.0.0.1:1/unused"})
	h := newTestRouter(t, svc, routerOptions{})

	rec := do(h, http.MethodPost, "/api/generate-audio-chunk",
		`{"text":"Hello there.","speakerId":3,"sessionId":"sess-1","chunkIndex":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, noKeysMessage, decodeBody(t, rec)["error"])
}

func TestGenerateChunk_ValidationAndBadJSON(t *testing.T) {
	h := newTestRouter(t, newTestService(t), routerOptions{})

	rec := do(h, http.MethodPost, "/api/generate-audio-chunk", `{"sessionId":"s"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Text is required for audio generation", decodeBody(t, rec)["error"])

	rec = do(h, http.MethodPost, "/api/generate-audio-chunk", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON body", decodeBody(t, rec)["error"])
}

func TestBodyLimit(t *testing.T) {
	h := newTestRouter(t, newTestService(t), routerOptions{MaxBodyBytes: 16})
	rec := do(h, http.MethodPost, "/api/generate-audio-chunk", `{"text":"`+strings.Repeat("a", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestRouter(t, newTestService(t), routerOptions{})
	rec := do(h, http.MethodGet, "/api/generate-audio-chunk", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSimpleAudio_UpstreamFailureReportsChunk(t *testing.T) {
	synth := &failingSynth{name: tts.ProviderMiniMax}
	h := newTestRouter(t, newTestService(t, synth), routerOptions{})

	rec := do(h, http.MethodPost, "/api/generate-simple-audio", `{"text":"hi","provider":"minimax","voice":"v1"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["retryable"])
	assert.Equal(t, float64(0), body["chunkIndex"])
	assert.Equal(t, float64(2), body["attempts"])
	assert.True(t, strings.HasPrefix(body["error"].(string), "Failed to generate audio: "))
	assert.Equal(t, 2, synth.calls)
}

func TestSimpleAudio_UnsupportedProvider(t *testing.T) {
	h := newTestRouter(t, newTestService(t), routerOptions{})
	rec := do(h, http.MethodPost, "/api/generate-simple-audio", `{"text":"hi","provider":"openai","voice":"alloy"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "Only 'minimax' and 'elevenlabs' are supported.")
}

func TestConcatenate_Validation(t *testing.T) {
	h := newTestRouter(t, newTestService(t), routerOptions{})
	rec := do(h, http.MethodPost, "/api/concatenate-audio-chunks", `{"audioChunks":[],"sessionId":"s1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Audio chunks are required for concatenation", decodeBody(t, rec)["error"])
}

func TestKeysEndpoints(t *testing.T) {
	admin := &fakeAdmin{stats: db.KeyStats{ValidCount: 2, InvalidCount: 1, TotalCount: 3, UsageLimitReached: 1, AverageUsage: 12.33}}
	svc := newTestService(t)
	svc.KeyAdmin = admin
	h := newTestRouter(t, svc, routerOptions{})

	rec := do(h, http.MethodPost, "/api/upload-api-keys", `{"apiKeysText":"  k1 \n\nk2\n"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, "Successfully uploaded 2 API keys", body["message"])
	assert.Equal(t, []string{"k1", "k2"}, admin.inserted)

	rec = do(h, http.MethodGet, "/api/api-keys-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(2), body["validCount"])
	assert.Equal(t, float64(3), body["totalCount"])
	assert.Equal(t, 12.33, body["averageUsage"])
	assert.Equal(t, "Found 2 valid API keys out of 3 total", body["message"])

	rec = do(h, http.MethodPost, "/api/upload-api-keys", `{"apiKeysText":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFormatKeyStats(t *testing.T) {
	t.Parallel()

	got := formatKeyStats(db.KeyStats{ValidCount: 2, InvalidCount: 1, TotalCount: 3, UsageLimitReached: 1, AverageUsage: 12.333}, 50)
	assert.Equal(t, "valid=2 invalid=1 total=3 usage_limit_reached=1 usage_ceiling=50 average_usage=12.33", got)
}

func TestRateLimit(t *testing.T) {
	svc := newTestService(t)
	svc.KeyAdmin = &fakeAdmin{}
	h := newTestRouter(t, svc, routerOptions{RateLimit: "2-M"})

	for i := 0; i < 2; i++ {
		rec := do(h, http.MethodGet, "/api/api-keys-status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
	}
	rec := do(h, http.MethodGet, "/api/api-keys-status", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// health is outside the limited tree
	rec = do(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_ForwardedForIgnoredByDefault(t *testing.T) {
	svc := newTestService(t)
	svc.KeyAdmin = &fakeAdmin{}
	h := newTestRouter(t, svc, routerOptions{RateLimit: "2-M"})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/api-keys-status", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i+1))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimit_TrustForwardHeader(t *testing.T) {
	svc := newTestService(t)
	svc.KeyAdmin = &fakeAdmin{}
	h := newTestRouter(t, svc, routerOptions{RateLimit: "1-M", TrustForwardHeader: true})

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/api-keys-status", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, ip)
	}
}

func TestRateLimit_InvalidFormat(t *testing.T) {
	_, err := newRouter(newTestService(t), routerOptions{RateLimit: "lots"})
	require.Error(t, err)
}

func TestComprehensiveBodyMapsProviderFields(t *testing.T) {
	t.Parallel()

	eleven := comprehensiveBody{Text: "t", Provider: "ElevenLabs", Voice: "generic", ElevenLabsVoiceID: "voice-x", ElevenLabsModelID: "eleven_v2"}.request()
	assert.Equal(t, "voice-x", eleven.Voice)
	assert.Equal(t, "eleven_v2", eleven.Model)

	google := comprehensiveBody{Text: "t", Provider: "google-tts", LanguageCode: "en-US", GoogleTTSVoiceName: "en-GB-Neural2-A", GoogleTTSLanguageCode: "en-GB"}.request()
	assert.Equal(t, "en-GB-Neural2-A", google.Voice)
	assert.Equal(t, "en-GB", google.Language)

	fish := comprehensiveBody{Text: "t", Provider: "fish-audio", Voice: "v", FishAudioModel: "speech-1.6"}.request()
	assert.Equal(t, "v", fish.Voice)
	assert.Equal(t, "speech-1.6", fish.Model)
}

func TestExtractGlobalVerbose(t *testing.T) {
	t.Parallel()

	args, verbose := extractGlobalVerbose([]string{"audio", "serve", "--verbose", "--listen=:9000"})
	assert.True(t, verbose)
	assert.Equal(t, []string{"audio", "serve", "--listen=:9000"}, args)

	_, verbose = extractGlobalVerbose([]string{"audio", "--verbose=false", "serve"})
	assert.False(t, verbose)
}
