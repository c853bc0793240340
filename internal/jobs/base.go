package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ai-things/audio-go/internal/config"
	"ai-things/audio-go/internal/pipeline"
	"ai-things/audio-go/internal/queue"
	"ai-things/audio-go/internal/utils"
)

// Source is the part of queue.Client a worker needs.
type Source interface {
	Pop(queueName string) (*queue.Message, error)
	Publish(queueName string, payload []byte) error
}

const defaultMaxAttempts = 5

type JobContext struct {
	Config   config.Config
	Pipeline *pipeline.Service
	Queue    Source
}

type JobOptions struct {
	Sleep     int
	Queue     bool
	QueueOnce bool
	// MaxAttempts caps how often a failing message is handled before it is dropped.
	MaxAttempts int
}

type BaseJob struct {
	QueueInput      string
	IgnoreHostCheck bool
}

// Outcome tells RunQueue what to do with a handled message.
type Outcome int

const (
	Ack Outcome = iota
	Requeue
	Drop
)

// QueueHandler decodes and processes one message body.
type QueueHandler func(ctx context.Context, body []byte) (Outcome, error)

// envelope carries the fields every job payload shares.
type envelope struct {
	Hostname string `json:"hostname"`
	Attempt  int    `json:"attempt"`
}

// RunQueue polls QueueInput until ctx is done. Messages addressed to another hostname are put
// back; malformed JSON is dropped. A Requeue outcome republishes the body with its attempt
// counter bumped, until MaxAttempts handlings have failed.
func (b BaseJob) RunQueue(ctx context.Context, jctx JobContext, opts JobOptions, handler QueueHandler) error {
	if jctx.Queue == nil {
		return fmt.Errorf("queue client is not configured")
	}

	sleep := opts.Sleep
	if sleep <= 0 {
		sleep = 30
	}
	pause := time.Duration(sleep) * time.Second
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		msg, err := jctx.Queue.Pop(b.QueueInput)
		if err != nil {
			return err
		}
		if msg == nil {
			utils.Debug("queue empty", "queue", b.QueueInput, "sleep_s", sleep)
			if opts.QueueOnce {
				return nil
			}
			if !wait(ctx, pause) {
				return nil
			}
			continue
		}

		var env envelope
		if err := json.Unmarshal(msg.Body, &env); err != nil {
			utils.Warn("queue payload json decode failed", "queue", b.QueueInput, "err", err)
			_ = msg.Ack()
			if opts.QueueOnce {
				return nil
			}
			continue
		}
		if !b.IgnoreHostCheck && env.Hostname != "" && env.Hostname != jctx.Config.Hostname {
			utils.Warn("queue host mismatch", "queue", b.QueueInput, "message_host", env.Hostname, "local_host", jctx.Config.Hostname)
			_ = msg.Nack(true)
			if opts.QueueOnce || !wait(ctx, pause) {
				return nil
			}
			continue
		}

		outcome, err := handler(ctx, msg.Body)
		switch outcome {
		case Requeue:
			attempt := env.Attempt + 1
			if attempt >= maxAttempts {
				utils.Warn("queue message dropped after max attempts", "queue", b.QueueInput, "attempts", attempt, "err", err)
				_ = msg.Ack()
				break
			}
			utils.Error("queue handler error; requeue", "queue", b.QueueInput, "attempt", attempt, "err", err)
			if perr := b.republish(jctx.Queue, msg.Body, attempt); perr != nil {
				utils.Error("queue republish failed; nack", "queue", b.QueueInput, "err", perr)
				_ = msg.Nack(true)
			} else {
				_ = msg.Ack()
			}
			if !opts.QueueOnce && !wait(ctx, pause) {
				return nil
			}
		case Drop:
			utils.Warn("queue message dropped", "queue", b.QueueInput, "err", err)
			_ = msg.Ack()
		default:
			_ = msg.Ack()
		}
		if opts.QueueOnce {
			return nil
		}
	}
}

// republish puts body back on QueueInput with "attempt" set. Unknown fields are kept.
func (b BaseJob) republish(src Source, body []byte, attempt int) error {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["attempt"] = attempt
	out, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return src.Publish(b.QueueInput, out)
}

func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
