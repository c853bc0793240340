package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/pipeline"
	"ai-things/audio-go/internal/utils"
)

// NarrationPayload is the narration_requested message body.
type NarrationPayload struct {
	RequestID         string `json:"request_id"`
	Text              string `json:"text"`
	Provider          string `json:"provider"`
	Voice             string `json:"voice"`
	Model             string `json:"model"`
	Language          string `json:"language"`
	UserID            string `json:"user_id"`
	GenerateSubtitles bool   `json:"generate_subtitles"`
	Hostname          string `json:"hostname,omitempty"`
	Attempt           int    `json:"attempt,omitempty"`
}

func (p NarrationPayload) Request() pipeline.NarrateRequest {
	return pipeline.NarrateRequest{
		Text:              p.Text,
		Provider:          p.Provider,
		Voice:             p.Voice,
		Model:             p.Model,
		Language:          p.Language,
		UserID:            p.UserID,
		GenerateSubtitles: p.GenerateSubtitles,
	}
}

type NarrateJob struct {
	BaseJob
}

func NewNarrateJob(queueInput string) NarrateJob {
	if strings.TrimSpace(queueInput) == "" {
		queueInput = "narration_requested"
	}
	return NarrateJob{BaseJob: BaseJob{QueueInput: queueInput}}
}

// Run narrates one payload directly, or drains the queue when opts.Queue is set. The
// audio_ready event is published by the pipeline.
func (j NarrateJob) Run(ctx context.Context, jctx JobContext, opts JobOptions, direct NarrationPayload) (pipeline.NarrateResult, error) {
	if jctx.Pipeline == nil {
		return pipeline.NarrateResult{}, fmt.Errorf("pipeline is not configured")
	}
	if opts.Queue {
		return pipeline.NarrateResult{}, j.RunQueue(ctx, jctx, opts, func(ctx context.Context, body []byte) (Outcome, error) {
			return j.handle(ctx, jctx, body)
		})
	}
	return jctx.Pipeline.Narrate(ctx, direct.Request())
}

func (j NarrateJob) handle(ctx context.Context, jctx JobContext, body []byte) (Outcome, error) {
	var payload NarrationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Drop, fmt.Errorf("decode narration payload: %w", err)
	}
	utils.Info("NarrateJob start", "request_id", payload.RequestID, "provider", payload.Provider, "user", payload.UserID, "chars", len(payload.Text))

	res, err := jctx.Pipeline.Narrate(ctx, payload.Request())
	if err != nil {
		return classify(err), fmt.Errorf("narrate %s: %w", payload.RequestID, err)
	}
	utils.Info("NarrateJob done", "request_id", payload.RequestID, "url", res.AudioURL, "duration_s", res.Duration, "chunks", res.ChunksGenerated)
	return Ack, nil
}

// classify requeues vendor-side failures and drops requests that would fail the same way again.
func classify(err error) Outcome {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Requeue
	case errors.Is(err, apierr.ErrNoAvailableKey):
		return Requeue
	case apierr.IsRetryable(err):
		return Requeue
	default:
		return Drop
	}
}
