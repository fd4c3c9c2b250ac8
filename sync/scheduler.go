package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity-sync/core"
	glog "github.com/goliatone/go-logger/glog"
)

// ImportTrigger is the part of the import service the scheduler drives.
type ImportTrigger interface {
	DueConnections(ctx context.Context, now time.Time) ([]core.ConnectionConfig, error)
	TriggerImport(ctx context.Context, req core.TriggerImportRequest) (core.TriggerImportResult, error)
}

type SchedulerOption func(*Scheduler)

func WithSchedulerLogger(logger core.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// TickResult lists what a single scheduler pass did per connection id.
type TickResult struct {
	Triggered map[string]string
	Busy      []string
	Failed    map[string]error
}

// Scheduler queues live imports for connections whose sync interval has
// elapsed. Connections that are already running are skipped.
type Scheduler struct {
	service  ImportTrigger
	interval time.Duration
	logger   core.Logger
	now      func() time.Time
}

func NewScheduler(service ImportTrigger, interval time.Duration, opts ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = core.DefaultConfig().Scheduler.Interval()
	}
	s := &Scheduler{
		service:  service,
		interval: interval,
		logger:   glog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run ticks once immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || s.service == nil {
		return fmt.Errorf("sync: scheduler requires an import service")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil {
			logEvent(ctx, s.logger, "error", "import scheduler tick failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	result := TickResult{Triggered: map[string]string{}, Failed: map[string]error{}}
	if s == nil || s.service == nil {
		return result, fmt.Errorf("sync: scheduler requires an import service")
	}
	due, err := s.service.DueConnections(ctx, s.now())
	if err != nil {
		return result, err
	}
	for _, conn := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		triggered, triggerErr := s.service.TriggerImport(ctx, core.TriggerImportRequest{
			ConnectionID: conn.ID,
			TaskType:     core.ImportTaskTypeAll,
		})
		fields := map[string]any{"connection_id": conn.ID}
		switch {
		case triggerErr == nil:
			result.Triggered[conn.ID] = triggered.TaskID
			fields["task_id"] = triggered.TaskID
			logEvent(ctx, s.logger, "info", "scheduled import queued", fields)
		case connectionBusy(triggerErr):
			result.Busy = append(result.Busy, conn.ID)
			logEvent(ctx, s.logger, "info", "scheduled import skipped, connection busy", fields)
		default:
			result.Failed[conn.ID] = triggerErr
			fields["error"] = triggerErr.Error()
			logEvent(ctx, s.logger, "error", "scheduled import failed", fields)
		}
	}
	return result, nil
}

func connectionBusy(err error) bool {
	if errors.Is(err, core.ErrConnectionLeaseHeld) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == core.ImportErrorConnectionBusy
	}
	return false
}
