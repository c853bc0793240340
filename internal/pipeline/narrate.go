package pipeline

import (
	"context"
	"fmt"
	"strings"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/media"
	"ai-things/audio-go/internal/metrics"
	"ai-things/audio-go/internal/storage"
	"ai-things/audio-go/internal/subtitles"
	"ai-things/audio-go/internal/textchunk"
	"ai-things/audio-go/internal/tts"
	"ai-things/audio-go/internal/utils"
	"github.com/google/uuid"
)

type NarrateRequest struct {
	Text              string
	Provider          string
	Voice             string
	Model             string
	Language          string
	UserID            string
	GenerateSubtitles bool
}

type NarrateResult struct {
	AudioURL           string
	CompressedAudioURL string
	SubtitlesURL       string
	Duration           float64
	ChunksGenerated    int
	Provider           string
	Voice              string
}

// Narrate turns a full script into one uploaded audio file. Either every chunk is synthesized
// or the whole request fails; nothing is uploaded on failure.
func (s *Service) Narrate(ctx context.Context, in NarrateRequest) (res NarrateResult, err error) {
	start := s.now()
	defer func() { metrics.ObservePipeline(OpNarrate, start, err) }()

	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if strings.TrimSpace(in.Text) == "" || provider == "" {
		return NarrateResult{}, apierr.Validation("Missing required fields: text and provider are required")
	}
	synth, err := s.Synths.Get(provider)
	if err != nil {
		return NarrateResult{}, err
	}

	prof := s.Settings.profile(provider)
	parts, err := textchunk.Split(in.Text, prof.ChunkMaxLength)
	if err != nil {
		return NarrateResult{}, err
	}
	if len(parts) == 0 {
		return NarrateResult{}, apierr.Validation("No text content to process after chunking.")
	}

	sess, err := s.Scratch.Open("req-" + uuid.NewString())
	if err != nil {
		return NarrateResult{}, err
	}
	defer sess.Cleanup()
	utils.Info("narrate", "provider", provider, "voice", in.Voice, "chars", len(in.Text), "chunks", len(parts), "session", sess.ID)

	files, err := s.synthesizeParts(ctx, sess, synth,
		tts.Request{Voice: in.Voice, Model: in.Model, Language: in.Language},
		parts,
		"part",
		func(i int) int { return i },
	)
	if err != nil {
		return NarrateResult{}, err
	}

	merged := sess.File("narration.mp3")
	err = s.Media.Concat(ctx, media.ConcatInput{
		Files:    files,
		Manifest: sess.File("narration-list.txt"),
		Output:   merged,
		Mode:     media.ModeReencode,
	})
	if err != nil {
		return NarrateResult{}, err
	}
	duration, err := s.Media.Probe(ctx, merged)
	if err != nil {
		return NarrateResult{}, err
	}

	keys := storage.NewNarrationKeys(in.UserID)
	audioURL, err := s.upload(ctx, merged, keys.Audio, "audio/mpeg")
	if err != nil {
		return NarrateResult{}, fmt.Errorf("upload narration: %w", err)
	}
	res = NarrateResult{
		AudioURL:        audioURL,
		Duration:        duration,
		ChunksGenerated: len(files),
		Provider:        provider,
		Voice:           in.Voice,
	}

	compressed := sess.File("narration-compressed.mp3")
	if err := s.Media.Compress(ctx, merged, compressed); err != nil {
		utils.Warn("compressed copy skipped", "err", err)
	} else if url, err := s.upload(ctx, compressed, keys.Compressed, "audio/mpeg"); err != nil {
		utils.Warn("compressed copy upload failed", "key", keys.Compressed, "err", err)
	} else {
		res.CompressedAudioURL = url
	}

	if in.GenerateSubtitles {
		segments := make([]subtitles.Segment, len(parts))
		for i, p := range parts {
			segments[i] = subtitles.Segment{Text: p}
		}
		res.SubtitlesURL = s.uploadSubtitles(ctx, sess, segments, files, keys.Subtitles)
	}

	s.publish(AudioReadyEvent{
		Operation:          OpNarrate,
		AudioURL:           audioURL,
		CompressedAudioURL: res.CompressedAudioURL,
		SubtitlesURL:       res.SubtitlesURL,
		Duration:           duration,
		Chunks:             len(files),
		Provider:           provider,
		UserID:             in.UserID,
		SessionID:          sess.ID,
	})
	utils.Info("narrate done", "provider", provider, "url", audioURL, "duration_s", duration, "elapsed", elapsed(start, s.now()))
	return res, nil
}
