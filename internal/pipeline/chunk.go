package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/media"
	"ai-things/audio-go/internal/metrics"
	"ai-things/audio-go/internal/textchunk"
	"ai-things/audio-go/internal/tts"
	"ai-things/audio-go/internal/utils"
)

type ChunkRequest struct {
	Text       string
	SpeakerID  string
	Model      string
	SessionID  string
	ChunkIndex int
}

type ChunkResult struct {
	ChunkIndex      int
	LocalFilePath   string
	Duration        float64
	Text            string
	ChunksGenerated int
}

// GenerateChunk synthesizes one caller chunk with WellSaid and leaves the merged file in the
// session directory for a later Concatenate call. Every other file it wrote is removed.
func (s *Service) GenerateChunk(ctx context.Context, in ChunkRequest) (res ChunkResult, err error) {
	start := s.now()
	defer func() { metrics.ObservePipeline(OpGenerateChunk, start, err) }()

	if strings.TrimSpace(in.Text) == "" {
		return ChunkResult{}, apierr.Validation("Text is required for audio generation")
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return ChunkResult{}, apierr.Validation("Session ID is required for chunk management")
	}
	synth, err := s.Synths.Get(tts.ProviderWellSaid)
	if err != nil {
		return ChunkResult{}, err
	}
	sess, err := s.Scratch.Open(in.SessionID)
	if err != nil {
		return ChunkResult{}, err
	}
	// Sibling chunks of the session may be running; the directory is removed by Concatenate or Sweep.
	defer sess.CleanupFiles()

	prof := s.Settings.profile(tts.ProviderWellSaid)
	parts, err := textchunk.Split(in.Text, prof.ChunkMaxLength)
	if err != nil {
		return ChunkResult{}, err
	}
	utils.Info("generate chunk", "session", in.SessionID, "chunk", in.ChunkIndex, "chars", len(in.Text), "parts", len(parts))

	files, err := s.synthesizeParts(ctx, sess, synth,
		tts.Request{Voice: in.SpeakerID, Model: in.Model},
		parts,
		fmt.Sprintf("chunk-%d-sub", in.ChunkIndex),
		func(int) int { return in.ChunkIndex },
	)
	if err != nil {
		return ChunkResult{}, err
	}

	final := sess.File(fmt.Sprintf("chunk-%d.mp3", in.ChunkIndex))
	if len(files) == 1 {
		if err := os.Rename(files[0], final); err != nil {
			return ChunkResult{}, fmt.Errorf("move chunk file: %w", err)
		}
		sess.Forget(files[0])
	} else {
		err = s.Media.Concat(ctx, media.ConcatInput{
			Files:    files,
			Manifest: sess.File(fmt.Sprintf("chunk-%d-list.txt", in.ChunkIndex)),
			Output:   final,
			Mode:     media.ModeCopy,
		})
		if err != nil {
			return ChunkResult{}, err
		}
	}

	duration, err := s.Media.Probe(ctx, final)
	if err != nil {
		return ChunkResult{}, err
	}
	sess.Forget(final)
	utils.Info("generate chunk done", "session", in.SessionID, "chunk", in.ChunkIndex, "duration_s", duration, "elapsed", elapsed(start, s.now()))

	return ChunkResult{
		ChunkIndex:      in.ChunkIndex,
		LocalFilePath:   final,
		Duration:        duration,
		Text:            in.Text,
		ChunksGenerated: len(files),
	}, nil
}

func elapsed(start, now time.Time) string {
	return now.Sub(start).Truncate(time.Millisecond).String()
}
