package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/pipeline"
	"ai-things/audio-go/internal/tts"
	"ai-things/audio-go/internal/utils"
	"github.com/spf13/cast"
)

const noKeysMessage = "No valid WellSaid Labs API keys available. Please upload API keys first."

type handlers struct {
	svc     *pipeline.Service
	maxBody int64
}

type chunkBody struct {
	Text       string `json:"text"`
	SpeakerID  any    `json:"speakerId"`
	SpeakerAlt any    `json:"speaker_id"`
	Model      string `json:"model"`
	SessionID  string `json:"sessionId"`
	ChunkIndex int    `json:"chunkIndex"`
}

type concatBody struct {
	AudioChunks []struct {
		ChunkIndex    int     `json:"chunkIndex"`
		LocalFilePath string  `json:"localFilePath"`
		Text          string  `json:"text"`
		Duration      float64 `json:"duration"`
	} `json:"audioChunks"`
	SessionID         string `json:"sessionId"`
	UserID            string `json:"userId"`
	GenerateSubtitles bool   `json:"generateSubtitles"`
}

type comprehensiveBody struct {
	Text                  string `json:"text"`
	Provider              string `json:"provider"`
	Voice                 string `json:"voice"`
	Model                 string `json:"model"`
	FishAudioVoiceID      string `json:"fishAudioVoiceId"`
	FishAudioModel        string `json:"fishAudioModel"`
	ElevenLabsVoiceID     string `json:"elevenLabsVoiceId"`
	ElevenLabsModelID     string `json:"elevenLabsModelId"`
	LanguageCode          string `json:"languageCode"`
	GoogleTTSVoiceName    string `json:"googleTtsVoiceName"`
	GoogleTTSLanguageCode string `json:"googleTtsLanguageCode"`
	UserID                string `json:"userId"`
	GenerateSubtitles     bool   `json:"generateSubtitles"`
}

// request folds the provider-specific field names older clients send onto the generic ones.
func (b comprehensiveBody) request() pipeline.NarrateRequest {
	req := pipeline.NarrateRequest{
		Text:              b.Text,
		Provider:          b.Provider,
		Voice:             b.Voice,
		Model:             b.Model,
		Language:          b.LanguageCode,
		UserID:            b.UserID,
		GenerateSubtitles: b.GenerateSubtitles,
	}
	switch strings.ToLower(strings.TrimSpace(b.Provider)) {
	case tts.ProviderFishAudio:
		req.Voice = firstNonEmpty(b.FishAudioVoiceID, req.Voice)
		req.Model = firstNonEmpty(b.FishAudioModel, req.Model)
	case tts.ProviderElevenLabs:
		req.Voice = firstNonEmpty(b.ElevenLabsVoiceID, req.Voice)
		req.Model = firstNonEmpty(b.ElevenLabsModelID, req.Model)
	case tts.ProviderGoogle:
		req.Voice = firstNonEmpty(b.GoogleTTSVoiceName, req.Voice)
		req.Language = firstNonEmpty(b.GoogleTTSLanguageCode, req.Language)
	}
	return req
}

type simpleBody struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Voice    string `json:"voice"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Retryable  *bool  `json:"retryable,omitempty"`
	ChunkIndex *int   `json:"chunkIndex,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
}

func (h *handlers) generateChunk(w http.ResponseWriter, r *http.Request) {
	var body chunkBody
	if !h.decode(w, r, &body) {
		return
	}
	speaker := cast.ToString(body.SpeakerID)
	if speaker == "" {
		speaker = cast.ToString(body.SpeakerAlt)
	}

	res, err := h.svc.GenerateChunk(r.Context(), pipeline.ChunkRequest{
		Text:       body.Text,
		SpeakerID:  speaker,
		Model:      body.Model,
		SessionID:  body.SessionID,
		ChunkIndex: body.ChunkIndex,
	})
	if err != nil {
		writeError(w, err, "Failed to generate audio chunk")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"chunkIndex":      res.ChunkIndex,
		"localFilePath":   res.LocalFilePath,
		"duration":        res.Duration,
		"text":            res.Text,
		"chunksGenerated": res.ChunksGenerated,
		"message":         fmt.Sprintf("Audio chunk %d generated successfully and saved locally", res.ChunkIndex),
	})
}

func (h *handlers) concatenate(w http.ResponseWriter, r *http.Request) {
	var body concatBody
	if !h.decode(w, r, &body) {
		return
	}
	chunks := make([]pipeline.ChunkFile, 0, len(body.AudioChunks))
	for _, c := range body.AudioChunks {
		chunks = append(chunks, pipeline.ChunkFile{
			ChunkIndex:    c.ChunkIndex,
			LocalFilePath: c.LocalFilePath,
			Text:          c.Text,
			Duration:      c.Duration,
		})
	}

	res, err := h.svc.Concatenate(r.Context(), pipeline.ConcatRequest{
		AudioChunks:       chunks,
		SessionID:         body.SessionID,
		UserID:            body.UserID,
		GenerateSubtitles: body.GenerateSubtitles,
	})
	if err != nil {
		writeError(w, err, "Failed to concatenate audio")
		return
	}
	out := map[string]any{
		"success":         true,
		"finalAudioUrl":   res.FinalAudioURL,
		"finalDuration":   res.FinalDuration,
		"chunksProcessed": res.ChunksProcessed,
		"message":         fmt.Sprintf("Successfully concatenated %d audio chunks", res.ChunksProcessed),
	}
	if res.SubtitlesURL != "" {
		out["subtitlesUrl"] = res.SubtitlesURL
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) comprehensive(w http.ResponseWriter, r *http.Request) {
	var body comprehensiveBody
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.svc.Narrate(r.Context(), body.request())
	if err != nil {
		writeError(w, err, "Failed to generate audio")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"audioUrl":           res.AudioURL,
		"compressedAudioUrl": res.CompressedAudioURL,
		"subtitlesUrl":       res.SubtitlesURL,
		"subtitlesGenerated": res.SubtitlesURL != "",
		"duration":           res.Duration,
		"chunksGenerated":    res.ChunksGenerated,
		"provider":           res.Provider,
		"voice":              res.Voice,
	})
}

func (h *handlers) simpleAudio(w http.ResponseWriter, r *http.Request) {
	var body simpleBody
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.svc.SimpleAudio(r.Context(), pipeline.SimpleRequest{
		Text:     body.Text,
		Provider: body.Provider,
		Voice:    body.Voice,
		Model:    body.Model,
		Language: body.Language,
	})
	if err != nil {
		writeError(w, err, "Failed to generate audio")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"audioUrl": res.AudioURL,
		"provider": res.Provider,
		"voice":    res.Voice,
		"model":    res.Model,
	})
}

func (h *handlers) uploadKeys(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKeysText string `json:"apiKeysText"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	count, err := h.svc.UploadKeys(r.Context(), body.APIKeysText)
	if err != nil {
		writeError(w, err, "Failed to upload API keys")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   count,
		"message": fmt.Sprintf("Successfully uploaded %d API keys", count),
	})
}

func (h *handlers) keysStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.KeyStatus(r.Context())
	if err != nil {
		writeError(w, err, "Failed to get API keys status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"validCount":        stats.ValidCount,
		"invalidCount":      stats.InvalidCount,
		"totalCount":        stats.TotalCount,
		"usageLimitReached": stats.UsageLimitReached,
		"averageUsage":      stats.AverageUsage,
		"message":           fmt.Sprintf("Found %d valid API keys out of %d total", stats.ValidCount, stats.TotalCount),
	})
}

// decode reads a JSON body capped at maxBody bytes. It writes the error response itself and
// reports whether the handler should continue.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error, prefix string) {
	switch {
	case errors.Is(err, apierr.ErrNoAvailableKey):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: noKeysMessage})
		return
	case errors.Is(err, apierr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: apierr.Message(err)})
		return
	}

	utils.Error(prefix, "err", err)
	retryable := apierr.IsRetryable(err)
	resp := errorResponse{
		Error:     prefix + ": " + apierr.Message(err),
		Retryable: &retryable,
	}
	var chunkErr *apierr.ChunkError
	if errors.As(err, &chunkErr) {
		idx := chunkErr.Index
		resp.ChunkIndex = &idx
		resp.Attempts = chunkErr.Attempts
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
