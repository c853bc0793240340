package pipeline

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/media"
	"ai-things/audio-go/internal/metrics"
	"ai-things/audio-go/internal/scratch"
	"ai-things/audio-go/internal/storage"
	"ai-things/audio-go/internal/subtitles"
	"ai-things/audio-go/internal/utils"
)

// ChunkFile is a chunk produced by GenerateChunk.
type ChunkFile struct {
	ChunkIndex    int
	LocalFilePath string
	Text          string
	Duration      float64
}

type ConcatRequest struct {
	AudioChunks       []ChunkFile
	SessionID         string
	UserID            string
	GenerateSubtitles bool
}

type ConcatResult struct {
	FinalAudioURL   string
	FinalDuration   float64
	ChunksProcessed int
	SubtitlesURL    string
}

// Concatenate merges a session's chunk files in index order, uploads the result and removes
// every file of the session, on failure as well.
func (s *Service) Concatenate(ctx context.Context, in ConcatRequest) (res ConcatResult, err error) {
	start := s.now()
	defer func() { metrics.ObservePipeline(OpConcatenate, start, err) }()

	if len(in.AudioChunks) == 0 {
		return ConcatResult{}, apierr.Validation("Audio chunks are required for concatenation")
	}
	if strings.TrimSpace(in.SessionID) == "" {
		return ConcatResult{}, apierr.Validation("Session ID is required for chunk management")
	}
	sess, err := s.Scratch.Open(in.SessionID)
	if err != nil {
		return ConcatResult{}, err
	}
	defer sess.Cleanup()

	chunks := slices.Clone(in.AudioChunks)
	slices.SortStableFunc(chunks, func(a, b ChunkFile) int { return a.ChunkIndex - b.ChunkIndex })
	files := make([]string, len(chunks))
	for i, c := range chunks {
		if i > 0 && chunks[i-1].ChunkIndex == c.ChunkIndex {
			return ConcatResult{}, apierr.Validation(fmt.Sprintf("Duplicate chunk index %d", c.ChunkIndex))
		}
		if !sess.Contains(c.LocalFilePath) {
			return ConcatResult{}, apierr.Validation(fmt.Sprintf("Audio chunk %d is not in session %s", c.ChunkIndex, in.SessionID))
		}
		sess.Track(c.LocalFilePath)
		files[i] = c.LocalFilePath
	}
	utils.Info("concatenate chunks", "session", in.SessionID, "chunks", len(files))

	final := sess.File("final-" + in.SessionID + ".mp3")
	err = s.Media.Concat(ctx, media.ConcatInput{
		Files:    files,
		Manifest: sess.File("concat-list.txt"),
		Output:   final,
		Mode:     media.ModeCopy,
	})
	if err != nil {
		return ConcatResult{}, err
	}
	duration, err := s.Media.Probe(ctx, final)
	if err != nil {
		return ConcatResult{}, err
	}

	key := storage.FinalAudioKey(s.now(), final)
	url, err := s.upload(ctx, final, key, "audio/mpeg")
	if err != nil {
		return ConcatResult{}, fmt.Errorf("upload final audio: %w", err)
	}

	res = ConcatResult{FinalAudioURL: url, FinalDuration: duration, ChunksProcessed: len(chunks)}
	if in.GenerateSubtitles {
		segments := make([]subtitles.Segment, len(chunks))
		for i, c := range chunks {
			segments[i] = subtitles.Segment{Text: c.Text, Duration: c.Duration}
		}
		res.SubtitlesURL = s.uploadSubtitles(ctx, sess, segments, files, storage.SubtitlesKeyFor(key))
	}

	s.publish(AudioReadyEvent{
		Operation:    OpConcatenate,
		AudioURL:     url,
		SubtitlesURL: res.SubtitlesURL,
		Duration:     duration,
		Chunks:       len(chunks),
		UserID:       in.UserID,
		SessionID:    in.SessionID,
	})
	utils.Info("concatenate done", "session", in.SessionID, "url", url, "duration_s", duration, "elapsed", elapsed(start, s.now()))
	return res, nil
}

// uploadSubtitles builds an SRT from segment texts and uploads it. Segments without a known duration
// are probed from the matching file. Failures are logged and yield an empty URL.
func (s *Service) uploadSubtitles(ctx context.Context, sess *scratch.Session, segments []subtitles.Segment, files []string, key string) string {
	for i := range segments {
		if segments[i].Duration > 0 {
			continue
		}
		d, err := s.Media.Probe(ctx, files[i])
		if err != nil {
			utils.Warn("subtitles skipped: chunk probe failed", "chunk", i, "err", err)
			return ""
		}
		segments[i].Duration = d
	}

	srt := subtitles.SerializeSRT(subtitles.FromSegments(segments, 0))
	if srt == "" {
		utils.Warn("subtitles skipped: no caption text")
		return ""
	}
	path := sess.File("captions.srt")
	if err := os.WriteFile(path, []byte(srt), 0o644); err != nil {
		utils.Warn("subtitles skipped: write failed", "err", err)
		return ""
	}
	url, err := s.upload(ctx, path, key, "application/x-subrip")
	if err != nil {
		utils.Warn("subtitles upload failed", "key", key, "err", err)
		return ""
	}
	return url
}
