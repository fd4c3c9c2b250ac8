package identitysync

import (
	"context"

	"github.com/goliatone/go-identity-sync/core"
)

// MetricsWorkerHook counts worker deliveries per outcome.
type MetricsWorkerHook struct {
	recorder core.MetricsRecorder
}

func NewMetricsWorkerHook(recorder core.MetricsRecorder) *MetricsWorkerHook {
	if recorder == nil {
		recorder = core.NopMetricsRecorder{}
	}
	return &MetricsWorkerHook{recorder: recorder}
}

func (h *MetricsWorkerHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.count(ctx, "start", event)
}

func (h *MetricsWorkerHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.count(ctx, "success", event)
	h.observe(ctx, "success", event)
}

func (h *MetricsWorkerHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.count(ctx, "failure", event)
	h.observe(ctx, "failure", event)
}

func (h *MetricsWorkerHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.count(ctx, "retry", event)
}

func (h *MetricsWorkerHook) count(ctx context.Context, outcome string, event core.JobWorkerEvent) {
	if h == nil || h.recorder == nil {
		return
	}
	h.recorder.IncCounter(ctx, "identity_sync.worker.deliveries", 1, map[string]string{
		"job_id":  jobID(event),
		"outcome": outcome,
	})
}

func (h *MetricsWorkerHook) observe(ctx context.Context, outcome string, event core.JobWorkerEvent) {
	if h == nil || h.recorder == nil || event.Duration <= 0 {
		return
	}
	h.recorder.ObserveHistogram(ctx, "identity_sync.worker.duration_ms", float64(event.Duration.Milliseconds()), map[string]string{
		"job_id":  jobID(event),
		"outcome": outcome,
	})
}

func jobID(event core.JobWorkerEvent) string {
	if event.Message == nil {
		return ""
	}
	return event.Message.JobID
}

var _ core.JobWorkerHook = (*MetricsWorkerHook)(nil)
