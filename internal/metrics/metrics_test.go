package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordWorkflowMetrics(t *testing.T) {
	runs := testutil.ToFloat64(WorkflowRuns.WithLabelValues("partial"))
	ok := testutil.ToFloat64(WorkflowSteps.WithLabelValues("success"))
	failed := testutil.ToFloat64(WorkflowSteps.WithLabelValues("failure"))

	RecordWorkflowMetrics("partial", 1.5, 3, 1)

	assert.Equal(t, runs+1, testutil.ToFloat64(WorkflowRuns.WithLabelValues("partial")))
	assert.Equal(t, ok+2, testutil.ToFloat64(WorkflowSteps.WithLabelValues("success")))
	assert.Equal(t, failed+1, testutil.ToFloat64(WorkflowSteps.WithLabelValues("failure")))
}

func TestRecordToolInvocation(t *testing.T) {
	before := testutil.ToFloat64(ToolInvocations.WithLabelValues("create-zoho-lead", "failure"))
	RecordToolInvocation("create-zoho-lead", "failure", 0.2)
	assert.Equal(t, before+1, testutil.ToFloat64(ToolInvocations.WithLabelValues("create-zoho-lead", "failure")))
}

func TestRecordLLMRequest(t *testing.T) {
	before := testutil.ToFloat64(LLMRequests.WithLabelValues("generate", "error"))
	RecordLLMRequest("generate", "error", 0)
	assert.Equal(t, before+1, testutil.ToFloat64(LLMRequests.WithLabelValues("generate", "error")))
}
