package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestChunkAttemptCounts(t *testing.T) {
	before := testutil.ToFloat64(chunkAttempts.WithLabelValues("wellsaid", OutcomeAuth))
	ChunkAttempt("wellsaid", OutcomeAuth)
	ChunkAttempt("wellsaid", OutcomeAuth)
	assert.Equal(t, before+2, testutil.ToFloat64(chunkAttempts.WithLabelValues("wellsaid", OutcomeAuth)))
}

func TestObservePipelineCountsFailuresOnly(t *testing.T) {
	before := testutil.ToFloat64(pipelineFailures.WithLabelValues("narrate"))
	ObservePipeline("narrate", time.Now(), nil)
	ObservePipeline("narrate", time.Now(), errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(pipelineFailures.WithLabelValues("narrate")))
}
