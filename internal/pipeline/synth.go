package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/batch"
	"ai-things/audio-go/internal/db"
	"ai-things/audio-go/internal/metrics"
	"ai-things/audio-go/internal/scratch"
	"ai-things/audio-go/internal/tts"
	"ai-things/audio-go/internal/utils"
	"github.com/google/uuid"
)

const keySettleTimeout = 5 * time.Second

// synthesizeParts runs one synthesis per text part through the batch scheduler and returns the
// written files in part order. chunkIndex maps a part position to the index reported on failure.
func (s *Service) synthesizeParts(
	ctx context.Context,
	sess *scratch.Session,
	synth tts.Synthesizer,
	base tts.Request,
	parts []string,
	prefix string,
	chunkIndex func(part int) int,
) ([]string, error) {
	prof := s.Settings.profile(synth.Name())
	opts := batch.Options{
		Size:  prof.BatchSize,
		Delay: prof.BatchDelay,
		OnBatch: func(n, start, end int) {
			utils.Info("synthesis batch", "provider", synth.Name(), "batch", n+1, "chunks", fmt.Sprintf("%d-%d", start, end-1), "total", len(parts))
		},
	}
	return batch.Run(ctx, len(parts), opts, func(ctx context.Context, i int) (string, error) {
		req := base
		req.Text = parts[i]
		return s.synthesizeChunk(ctx, sess, synth, req, chunkIndex(i), fmt.Sprintf("%s-%d", prefix, i))
	})
}

// synthesizeChunk retries one chunk with backoff. Exhaustion is reported as a ChunkError.
func (s *Service) synthesizeChunk(ctx context.Context, sess *scratch.Session, synth tts.Synthesizer, req tts.Request, index int, prefix string) (string, error) {
	pooled := s.Settings.profile(synth.Name()).UsesKeyPool
	retry := s.Settings.Retry
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		utils.Warn("chunk synthesis retry", "provider", synth.Name(), "chunk", index, "attempt", attempt, "delay", delay.String(), "err", err)
	}

	path, attempts, err := apierr.RetryWithBackoff(ctx, retry, func(ctx context.Context, attempt int) (string, error) {
		return s.attempt(ctx, sess, synth, req, pooled, prefix)
	}, apierr.IsRetryable)
	if err != nil {
		utils.Error("chunk synthesis failed", "provider", synth.Name(), "chunk", index, "attempts", attempts, "err", err)
		return "", &apierr.ChunkError{Index: index, Attempts: attempts, Err: err}
	}
	utils.Debug("chunk synthesized", "provider", synth.Name(), "chunk", index, "attempts", attempts, "path", path)
	return path, nil
}

// attempt is a single vendor call. A pooled key is claimed first; if the call fails the key is
// retired on auth failure and released otherwise.
func (s *Service) attempt(ctx context.Context, sess *scratch.Session, synth tts.Synthesizer, req tts.Request, pooled bool, prefix string) (string, error) {
	var key db.APIKey
	if pooled {
		if s.Keys == nil {
			return "", fmt.Errorf("key pool is not configured: %w", apierr.ErrNoAvailableKey)
		}
		claimed, err := s.Keys.ClaimKey(ctx)
		if err != nil {
			return "", err
		}
		key = claimed
		req.APIKey = key.Key
	}

	path := sess.File(prefix + "-" + uuid.NewString() + ".mp3")
	if err := writeAudio(ctx, synth, req, path); err != nil {
		sess.Remove(path)
		metrics.ChunkAttempt(synth.Name(), outcome(err))
		if pooled {
			s.settleKey(ctx, key, err)
		}
		return "", err
	}

	metrics.ChunkAttempt(synth.Name(), metrics.OutcomeSuccess)
	if pooled && !key.IsValid {
		utils.Info("api key reached usage ceiling", "key", utils.RedactKey(key.Key), "use_count", key.UseCount)
		metrics.KeyRetired(db.ReasonUsageCeiling)
	}
	return path, nil
}

func writeAudio(ctx context.Context, synth tts.Synthesizer, req tts.Request, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chunk file: %w", err)
	}
	if err := synth.Synthesize(ctx, req, f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close chunk file: %w", err)
	}
	return nil
}

// settleKey runs even when ctx is already cancelled so a claimed use is never leaked.
func (s *Service) settleKey(ctx context.Context, key db.APIKey, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), keySettleTimeout)
	defer cancel()

	// The claimed use is given back first: usage only counts successful calls.
	if err := s.Keys.ReleaseKey(ctx, key.Key); err != nil {
		utils.Error("release api key failed", "key", utils.RedactKey(key.Key), "err", err)
	}
	if errors.Is(cause, apierr.ErrAuthFailed) {
		utils.Warn("retiring api key after auth failure", "key", utils.RedactKey(key.Key), "err", cause)
		if err := s.Keys.RetireKey(ctx, key.Key, db.ReasonAuthFailure); err != nil {
			utils.Error("retire api key failed", "key", utils.RedactKey(key.Key), "err", err)
			return
		}
		metrics.KeyRetired(db.ReasonAuthFailure)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apierr.ErrAuthFailed):
		return metrics.OutcomeAuth
	case apierr.IsRetryable(err):
		return metrics.OutcomeTransient
	default:
		return metrics.OutcomeFatal
	}
}
