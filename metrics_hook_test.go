package identitysync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-identity-sync/core"
)

type capturedMetric struct {
	name  string
	value float64
	tags  map[string]string
}

type capturingRecorder struct {
	counters   []capturedMetric
	histograms []capturedMetric
}

func (r *capturingRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	r.counters = append(r.counters, capturedMetric{name: name, value: float64(value), tags: tags})
}

func (r *capturingRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	r.histograms = append(r.histograms, capturedMetric{name: name, value: value, tags: tags})
}

func TestMetricsWorkerHook_CountsOutcomes(t *testing.T) {
	recorder := &capturingRecorder{}
	hook := NewMetricsWorkerHook(recorder)
	msg := &core.JobExecutionMessage{JobID: core.ImportJobID}

	hook.OnStart(context.Background(), core.JobWorkerEvent{Message: msg, Attempt: 1})
	hook.OnRetry(context.Background(), core.JobWorkerEvent{Message: msg, Attempt: 1, Err: errors.New("db down")})
	hook.OnSuccess(context.Background(), core.JobWorkerEvent{Message: msg, Attempt: 2, Duration: 40 * time.Millisecond})
	hook.OnFailure(context.Background(), core.JobWorkerEvent{Message: nil})

	outcomes := []string{"start", "retry", "success", "failure"}
	if len(recorder.counters) != len(outcomes) {
		t.Fatalf("expected %d counters, got %d", len(outcomes), len(recorder.counters))
	}
	for i, outcome := range outcomes {
		got := recorder.counters[i]
		if got.name != "identity_sync.worker.deliveries" || got.tags["outcome"] != outcome {
			t.Fatalf("unexpected counter %d: %#v", i, got)
		}
	}
	if recorder.counters[0].tags["job_id"] != core.ImportJobID {
		t.Fatalf("expected job id tag, got %#v", recorder.counters[0].tags)
	}
	if recorder.counters[3].tags["job_id"] != "" {
		t.Fatalf("expected empty job id without a message")
	}

	if len(recorder.histograms) != 1 {
		t.Fatalf("expected only the timed success to be observed, got %#v", recorder.histograms)
	}
	if recorder.histograms[0].name != "identity_sync.worker.duration_ms" || recorder.histograms[0].value != 40 {
		t.Fatalf("unexpected histogram %#v", recorder.histograms[0])
	}
}

func TestMetricsWorkerHook_NilRecorderIsNop(t *testing.T) {
	hook := NewMetricsWorkerHook(nil)
	hook.OnSuccess(context.Background(), core.JobWorkerEvent{Duration: time.Second})

	var nilHook *MetricsWorkerHook
	nilHook.OnStart(context.Background(), core.JobWorkerEvent{})
}
