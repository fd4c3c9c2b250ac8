package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity-sync/adapters/gojob"
	"github.com/goliatone/go-identity-sync/core"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultDequeueBackoff = 250 * time.Millisecond

// TaskRunner executes one queued import task.
type TaskRunner interface {
	RunImportTask(ctx context.Context, taskID string) error
}

// TaskFailer closes tasks whose delivery was dead-lettered. Runners that
// implement it get the task failed and the connection released.
type TaskFailer interface {
	FailImportTask(ctx context.Context, taskID string, reason string) error
}

type WorkerOption func(*Worker)

func WithWorkerHook(hook core.JobWorkerHook) WorkerOption {
	return func(w *Worker) {
		w.hook = hook
	}
}

func WithWorkerLogger(logger core.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithRetryPolicy(policy gojob.RetryPolicy) WorkerOption {
	return func(w *Worker) {
		w.retry = policy
	}
}

func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// Worker drains import run messages and hands each task to the runner.
// Failures the runner reports are infrastructure failures and are nacked
// through the retry policy; unknown tasks and malformed messages are
// dead-lettered straight away.
type Worker struct {
	queue       core.JobDequeuer
	runner      TaskRunner
	hook        core.JobWorkerHook
	logger      core.Logger
	retry       gojob.RetryPolicy
	concurrency int
	now         func() time.Time
}

func NewWorker(queue core.JobDequeuer, runner TaskRunner, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:       queue,
		runner:      runner,
		logger:      glog.Nop(),
		retry:       gojob.DefaultRetryPolicy(core.DefaultConfig().Queue.MaxAttempts),
		concurrency: 1,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run blocks until ctx is done or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.queue == nil || w.runner == nil {
		return fmt.Errorf("sync: worker requires a queue and a task runner")
	}
	var wg gosync.WaitGroup
	errs := make(chan error, w.concurrency)
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- w.loop(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		delivery, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return nil
			}
			w.log(ctx, "error", "import queue dequeue failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(defaultDequeueBackoff):
			}
			continue
		}
		if err := w.Handle(ctx, delivery); err != nil {
			w.log(ctx, "error", "import delivery settle failed", map[string]any{"error": err.Error()})
		}
	}
}

// Handle runs a single delivery and settles it.
func (w *Worker) Handle(ctx context.Context, delivery core.JobDelivery) error {
	if delivery == nil {
		return fmt.Errorf("sync: delivery is required")
	}
	msg := delivery.Message()
	attempt := deliveryAttempt(delivery)
	startedAt := w.now()
	event := core.JobWorkerEvent{Message: msg, Attempt: attempt, StartedAt: startedAt}

	taskID, err := importTaskID(msg)
	if err != nil {
		event.Err = err
		w.onFailure(ctx, event)
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
	}

	fields := map[string]any{"task_id": taskID, "attempt": attempt}
	w.onStart(ctx, event)
	runErr := w.runner.RunImportTask(ctx, taskID)
	event.Duration = w.now().Sub(startedAt)
	if runErr == nil {
		w.onSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	event.Err = runErr
	fields["error"] = runErr.Error()
	if permanentFailure(runErr) {
		w.log(ctx, "error", "import task dropped", fields)
		w.onFailure(ctx, event)
		w.failTask(ctx, taskID, runErr)
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: runErr.Error()})
	}

	opts := w.retry.NormalizeAttempt(core.JobNackOptions{
		Delay:   w.retry.Backoff(attempt),
		Requeue: true,
		Reason:  runErr.Error(),
	}, attempt)
	if opts.Requeue {
		event.Delay = opts.Delay
		fields["retry_in_ms"] = opts.Delay.Milliseconds()
		w.log(ctx, "error", "import task retry scheduled", fields)
		w.onRetry(ctx, event)
	} else {
		w.log(ctx, "error", "import task retries exhausted", fields)
		w.onFailure(ctx, event)
		w.failTask(ctx, taskID, runErr)
	}
	return delivery.Nack(ctx, opts)
}

func (w *Worker) failTask(ctx context.Context, taskID string, cause error) {
	failer, ok := w.runner.(TaskFailer)
	if !ok {
		return
	}
	if err := failer.FailImportTask(ctx, taskID, cause.Error()); err != nil {
		w.log(ctx, "error", "import task fail transition failed", map[string]any{
			"task_id": taskID,
			"error":   err.Error(),
		})
	}
}

func importTaskID(msg *core.JobExecutionMessage) (string, error) {
	run, err := gojob.ParseImportRun(msg)
	if err != nil {
		return "", err
	}
	return run.TaskID, nil
}

// permanentFailure reports errors a redelivery cannot fix.
func permanentFailure(err error) bool {
	if errors.Is(err, core.ErrImportTaskNotFound) || errors.Is(err, core.ErrInvalidImportTaskTransition) {
		return true
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	switch richErr.Category {
	case goerrors.CategoryNotFound, goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryConflict:
		return true
	}
	return false
}

func deliveryAttempt(delivery core.JobDelivery) int {
	if counted, ok := delivery.(interface{ Attempt() int }); ok && counted.Attempt() > 0 {
		return counted.Attempt()
	}
	return 1
}

func (w *Worker) onStart(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}
}

func (w *Worker) onSuccess(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnSuccess(ctx, event)
	}
}

func (w *Worker) onFailure(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
}

func (w *Worker) onRetry(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnRetry(ctx, event)
	}
}

func (w *Worker) log(ctx context.Context, level string, message string, fields map[string]any) {
	logEvent(ctx, w.logger, level, message, fields)
}
