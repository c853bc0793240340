package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"ai-things/audio-go/internal/config"
	"ai-things/audio-go/internal/db"
	"ai-things/audio-go/internal/jobs"
	"ai-things/audio-go/internal/queue"
	"ai-things/audio-go/internal/scratch"
	"ai-things/audio-go/internal/utils"
	"github.com/google/uuid"
)

// readInput reads a file, or stdin when path is "-".
func readInput(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("missing input file (use - for stdin)")
	}
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}

func runKeysUpload(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("keys:upload", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	text, err := readInput(fs.Arg(0))
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	count, err := a.svc.UploadKeys(ctx, text)
	if err != nil {
		return err
	}
	fmt.Printf("Successfully uploaded %d API keys\n", count)
	return nil
}

func runKeysStatus(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("keys:status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.svc.KeyStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Println(formatKeyStats(stats, a.store.UsageCeiling()))
	return nil
}

func formatKeyStats(stats db.KeyStats, ceiling int) string {
	return fmt.Sprintf("valid=%d invalid=%d total=%d usage_limit_reached=%d usage_ceiling=%d average_usage=%.2f",
		stats.ValidCount, stats.InvalidCount, stats.TotalCount, stats.UsageLimitReached, ceiling, stats.AverageUsage)
}

func runKeysPurge(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("keys:purge", flag.ContinueOnError)
	olderThan := fs.Duration("older-than", 30*24*time.Hour, "Delete keys retired longer ago than this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.store.PurgeRetired(ctx, *olderThan)
	if err != nil {
		return err
	}
	fmt.Printf("Purged %d retired API keys\n", n)
	return nil
}

func runScratchSweep(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("scratch:sweep", flag.ContinueOnError)
	maxAge := fs.Duration("max-age", cfg.SweepMaxAge, "Remove session directories older than this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	m := scratch.NewManager(cfg.ScratchRoot)
	n, err := m.Sweep(*maxAge, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d session directories from %s\n", n, m.Root)
	return nil
}

type narrateFlags struct {
	provider  *string
	voice     *string
	model     *string
	language  *string
	user      *string
	subtitles *bool
}

func addNarrateFlags(fs *flag.FlagSet) narrateFlags {
	return narrateFlags{
		provider:  fs.String("provider", "", "TTS provider"),
		voice:     fs.String("voice", "", "Voice id or name"),
		model:     fs.String("model", "", "Provider model"),
		language:  fs.String("language", "", "Language code"),
		user:      fs.String("user", "", "User id used in storage keys"),
		subtitles: fs.Bool("subtitles", false, "Also upload an .srt"),
	}
}

func (f narrateFlags) payload(text string) jobs.NarrationPayload {
	return jobs.NarrationPayload{
		RequestID:         uuid.NewString(),
		Text:              text,
		Provider:          *f.provider,
		Voice:             *f.voice,
		Model:             *f.model,
		Language:          *f.language,
		UserID:            *f.user,
		GenerateSubtitles: *f.subtitles,
	}
}

func runNarrate(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("job:Narrate", flag.ContinueOnError)
	sleep := fs.Int("sleep", 30, "Sleep time in seconds")
	queueFlag := fs.Bool("queue", false, "Process queue messages")
	once := fs.Bool("once", false, "Handle at most one queue message")
	maxAttempts := fs.Int("max-attempts", 5, "Drop a queue message after this many failed attempts")
	nf := addNarrateFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var direct jobs.NarrationPayload
	if !*queueFlag {
		text, err := readInput(fs.Arg(0))
		if err != nil {
			return err
		}
		direct = nf.payload(text)
	} else if !cfg.RabbitMQEnabled {
		return fmt.Errorf("job:Narrate --queue needs rabbitmq.enabled=true")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := notifyContext(ctx)
	defer stop()

	opts := jobs.JobOptions{Sleep: *sleep, Queue: *queueFlag, QueueOnce: *once, MaxAttempts: *maxAttempts}
	utils.Logf("start job:Narrate queue=%t sleep=%d once=%t max_attempts=%d", opts.Queue, opts.Sleep, opts.QueueOnce, opts.MaxAttempts)

	jctx := jobs.JobContext{Config: cfg, Pipeline: a.svc}
	if a.queue != nil {
		jctx.Queue = a.queue
	}
	res, err := jobs.NewNarrateJob(cfg.RabbitMQJobsQueue).Run(ctx, jctx, opts, direct)
	if err != nil {
		return err
	}
	if !*queueFlag {
		fmt.Printf("audio_url=%s duration=%.3f chunks=%d\n", res.AudioURL, res.Duration, res.ChunksGenerated)
		if res.CompressedAudioURL != "" {
			fmt.Printf("compressed_audio_url=%s\n", res.CompressedAudioURL)
		}
		if res.SubtitlesURL != "" {
			fmt.Printf("subtitles_url=%s\n", res.SubtitlesURL)
		}
	}
	return nil
}

func runNarrateEnqueue(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("narrate:enqueue", flag.ContinueOnError)
	host := fs.String("host", "", "Only let the worker on this hostname take the job")
	nf := addNarrateFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	text, err := readInput(fs.Arg(0))
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" || strings.TrimSpace(*nf.provider) == "" {
		return fmt.Errorf("script text and --provider are required")
	}

	q, err := queue.New(cfg.RabbitMQURL())
	if err != nil {
		return err
	}
	defer q.Close()

	payload := nf.payload(text)
	payload.Hostname = *host
	if err := q.PublishJSON(cfg.RabbitMQJobsQueue, payload); err != nil {
		return err
	}
	fmt.Printf("Queued narration %s on %s\n", payload.RequestID, cfg.RabbitMQJobsQueue)
	return nil
}
