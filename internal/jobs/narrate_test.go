package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/config"
	"ai-things/audio-go/internal/pipeline"
	"ai-things/audio-go/internal/queue"
	"ai-things/audio-go/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	acked    bool
	nacked   bool
	requeued bool
}

type fakeSource struct {
	bodies     []string
	deliveries []*delivery
	published  []string
}

func (f *fakeSource) Publish(_ string, payload []byte) error {
	f.published = append(f.published, string(payload))
	f.bodies = append(f.bodies, string(payload))
	return nil
}

func (f *fakeSource) Pop(string) (*queue.Message, error) {
	if len(f.bodies) == 0 {
		return nil, nil
	}
	body := f.bodies[0]
	f.bodies = f.bodies[1:]
	d := &delivery{}
	f.deliveries = append(f.deliveries, d)
	return queue.NewMessage([]byte(body),
		func(bool) error { d.acked = true; return nil },
		func(_, requeue bool) error { d.nacked = true; d.requeued = requeue; return nil },
	), nil
}

func newJobContext(src Source) JobContext {
	return JobContext{
		Config:   config.Config{Hostname: "worker-1"},
		Pipeline: &pipeline.Service{Synths: tts.NewRegistry()},
		Queue:    src,
	}
}

func TestNarrateJob_DropsInvalidRequests(t *testing.T) {
	src := &fakeSource{bodies: []string{`{"request_id":"r1","text":"hello"}`}}
	job := NewNarrateJob("")

	_, err := job.Run(context.Background(), newJobContext(src), JobOptions{Queue: true, QueueOnce: true}, NarrationPayload{})
	require.NoError(t, err)

	require.Len(t, src.deliveries, 1)
	assert.True(t, src.deliveries[0].acked)
	assert.False(t, src.deliveries[0].nacked)
}

func TestNarrateJob_RequeuesMessagesForOtherHosts(t *testing.T) {
	src := &fakeSource{bodies: []string{`{"request_id":"r2","text":"hi","provider":"openai","hostname":"worker-2"}`}}
	job := NewNarrateJob("narration_requested")

	_, err := job.Run(context.Background(), newJobContext(src), JobOptions{Queue: true, QueueOnce: true}, NarrationPayload{})
	require.NoError(t, err)

	require.Len(t, src.deliveries, 1)
	assert.True(t, src.deliveries[0].requeued)
	assert.False(t, src.deliveries[0].acked)
}

func TestNarrateJob_MalformedJSONIsAcked(t *testing.T) {
	src := &fakeSource{bodies: []string{`not json`}}
	job := NewNarrateJob("")

	_, err := job.Run(context.Background(), newJobContext(src), JobOptions{Queue: true, QueueOnce: true}, NarrationPayload{})
	require.NoError(t, err)
	assert.True(t, src.deliveries[0].acked)
}

func TestNarrateJob_EmptyQueueReturnsInOnceMode(t *testing.T) {
	src := &fakeSource{}
	_, err := NewNarrateJob("").Run(context.Background(), newJobContext(src), JobOptions{Queue: true, QueueOnce: true}, NarrationPayload{})
	require.NoError(t, err)
	assert.Empty(t, src.deliveries)
}

func TestNarrateJob_DirectRunSurfacesValidation(t *testing.T) {
	_, err := NewNarrateJob("").Run(context.Background(), newJobContext(nil), JobOptions{}, NarrationPayload{Text: "hi"})
	require.ErrorIs(t, err, apierr.ErrValidation)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	upstream := &apierr.ChunkError{Index: 1, Attempts: 4, Err: &apierr.StatusError{Provider: "wellsaid", StatusCode: http.StatusBadGateway}}
	assert.Equal(t, Requeue, classify(upstream))
	assert.Equal(t, Requeue, classify(fmt.Errorf("claim: %w", apierr.ErrNoAvailableKey)))
	assert.Equal(t, Requeue, classify(context.Canceled))
	assert.Equal(t, Drop, classify(apierr.Validation("bad")))
	assert.Equal(t, Drop, classify(apierr.ErrInvalidDuration))
}

func TestRunQueue_RequeueStopsAtMaxAttempts(t *testing.T) {
	src := &fakeSource{bodies: []string{`{"request_id":"r3","text":"hi","extra":"kept"}`}}
	job := NewNarrateJob("narration_requested")
	opts := JobOptions{Queue: true, QueueOnce: true, MaxAttempts: 3}

	var seen []int
	handler := func(_ context.Context, body []byte) (Outcome, error) {
		var p NarrationPayload
		require.NoError(t, json.Unmarshal(body, &p))
		seen = append(seen, p.Attempt)
		return Requeue, errors.New("upstream busy")
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, job.RunQueue(context.Background(), newJobContext(src), opts, handler))
	}

	assert.Equal(t, []int{0, 1, 2}, seen)
	require.Len(t, src.published, 2)
	assert.JSONEq(t, `{"request_id":"r3","text":"hi","extra":"kept","attempt":2}`, src.published[1])
	require.Len(t, src.deliveries, 3)
	for _, d := range src.deliveries {
		assert.True(t, d.acked)
		assert.False(t, d.nacked)
	}
	assert.Empty(t, src.bodies)
}
