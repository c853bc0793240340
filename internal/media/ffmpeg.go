// Package media wraps the ffmpeg/ffprobe invocations the pipeline needs: stream-copy or
// re-encoding concatenation, duration probing and a low-bitrate copy for transcription.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/utils"
)

// Mode selects how chunks are joined.
type Mode int

const (
	// ModeCopy joins by stream copy. Chunks must share codec and format.
	ModeCopy Mode = iota
	// ModeReencode re-encodes to 64k mono 44.1kHz mp3 while joining.
	ModeReencode
)

func (m Mode) String() string {
	if m == ModeReencode {
		return "reencode"
	}
	return "copy"
}

// Tool runs ffmpeg and ffprobe through a Runner.
type Tool struct {
	Runner        Runner
	FFmpeg        string
	FFprobe       string
	ConcatRetries int
}

// NewTool fills in binary names when empty.
func NewTool(r Runner, ffmpegBin, ffprobeBin string, concatRetries int) *Tool {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	if concatRetries < 0 {
		concatRetries = 0
	}
	return &Tool{Runner: r, FFmpeg: ffmpegBin, FFprobe: ffprobeBin, ConcatRetries: concatRetries}
}

// ConcatInput describes one join. Files are used in the given order.
type ConcatInput struct {
	Files    []string
	Manifest string
	Output   string
	Mode     Mode
}

// Manifest renders the concat demuxer list for files.
func Manifest(files []string) string {
	var b strings.Builder
	for i, f := range files {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(f, "'", `'\''`))
		b.WriteString("'")
	}
	return b.String()
}

func concatArgs(manifest, output string, mode Mode) []string {
	args := []string{"-f", "concat", "-safe", "0", "-i", manifest}
	if mode == ModeReencode {
		return append(args, "-b:a", "64k", "-ar", "44100", "-ac", "1", "-y", output)
	}
	return append(args, "-c", "copy", "-y", output)
}

// Concat writes the manifest and merges the files into Output. A failed ffmpeg run is retried
// up to ConcatRetries times; other failures are returned immediately.
func (t *Tool) Concat(ctx context.Context, in ConcatInput) error {
	if len(in.Files) == 0 {
		return fmt.Errorf("concat: no input files: %w", apierr.ErrValidation)
	}
	for _, f := range in.Files {
		if !utils.FileExists(f) {
			return fmt.Errorf("concat input %s: %w", f, apierr.ErrMissingFile)
		}
	}
	if err := os.WriteFile(in.Manifest, []byte(Manifest(in.Files)), 0o644); err != nil {
		return fmt.Errorf("write concat manifest: %w", err)
	}

	args := concatArgs(in.Manifest, in.Output, in.Mode)
	var lastErr error
	for attempt := 0; attempt <= t.ConcatRetries; attempt++ {
		if attempt > 0 {
			utils.Warn("ffmpeg concat retry", "attempt", attempt+1, "err", lastErr)
			utils.RemoveQuiet(in.Output)
		}
		lastErr = t.run(ctx, t.FFmpeg, args...)
		if lastErr == nil {
			utils.Info("ffmpeg concat done", "files", len(in.Files), "mode", in.Mode.String(), "output", in.Output)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("concat %d files: %w", len(in.Files), lastErr)
}

// Probe returns the container duration in seconds. Zero, negative or unparsable output is an
// ErrInvalidDuration even when ffprobe exited cleanly.
func (t *Tool) Probe(ctx context.Context, path string) (float64, error) {
	res, err := t.Runner.Run(ctx, t.FFprobe, "-v", "error", "-show_entries", "format=duration", "-of", "csv=p=0", path)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("ffprobe %s exit %d: %s: %w", path, res.ExitCode, lastLine(res.Stderr), apierr.ErrSubprocess)
	}
	raw := strings.TrimSpace(res.Stdout)
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil || duration <= 0 {
		return 0, fmt.Errorf("probe %s returned %q: %w", path, raw, apierr.ErrInvalidDuration)
	}
	return duration, nil
}

// Compress writes a 16kHz mono 32k copy suited to speech-to-text uploads.
func (t *Tool) Compress(ctx context.Context, input, output string) error {
	return t.run(ctx, t.FFmpeg, "-i", input, "-ar", "16000", "-ac", "1", "-b:a", "32k", "-f", "mp3", "-y", output)
}

func (t *Tool) run(ctx context.Context, name string, args ...string) error {
	res, err := t.Runner.Run(ctx, name, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", name, errors.Join(err, apierr.ErrSubprocess))
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exit %d: %s: %w", name, res.ExitCode, lastLine(res.Stderr), apierr.ErrSubprocess)
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
