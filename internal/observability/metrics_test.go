// internal/observability/metrics_test.go
package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics()

	m.QuestionResolved("workday", "element")
	m.QuestionResolved("workday", "element")
	m.QuestionResolved("lever", "LLM")
	m.LLMBatch("ok")
	m.CorrectionApplied("REMOVE_WORK_CONTAINER")
	m.ObserveHandler("radio", "OK", 120*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.questionsResolved.WithLabelValues("workday", "element")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.questionsResolved.WithLabelValues("lever", "LLM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmBatches.WithLabelValues("ok")))

	expected := `
# HELP autoapply_corrections_applied_total Structural corrections applied between iterations.
# TYPE autoapply_corrections_applied_total counter
autoapply_corrections_applied_total{kind="REMOVE_WORK_CONTAINER"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "autoapply_corrections_applied_total"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.QuestionResolved("greenhouse", "label")
		m.QuestionExhausted("greenhouse")
		m.LLMBatch("error")
		m.CorrectionApplied("MARK_QUESTION_FAILED")
		m.PageProcessed("greenhouse", "APPLICATION")
		m.ObserveHandler("text", "ERROR", time.Second)
	})
}
