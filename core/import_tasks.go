package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var importTaskTransitions = map[ImportTaskStatus][]ImportTaskStatus{
	ImportTaskStatusPending: {ImportTaskStatusRunning, ImportTaskStatusFailed},
	ImportTaskStatusRunning: {
		ImportTaskStatusCompleted,
		ImportTaskStatusCompletedWithErrors,
		ImportTaskStatusFailed,
	},
}

// CanTransition reports whether an import task may move from one status to
// another. Terminal statuses never transition.
func CanTransition(from ImportTaskStatus, to ImportTaskStatus) bool {
	for _, allowed := range importTaskTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the task to status and stamps its timestamps.
func (t *ImportTask) Transition(status ImportTaskStatus, now time.Time) error {
	if t == nil {
		return fmt.Errorf("core: import task is required")
	}
	if !CanTransition(t.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidImportTaskTransition, t.Status, status)
	}
	t.Status = status
	t.UpdatedAt = now
	switch {
	case status == ImportTaskStatusRunning:
		started := now
		t.StartedAt = &started
	case status.Terminal():
		completed := now
		t.CompletedAt = &completed
		if t.StartedAt == nil {
			t.StartedAt = &completed
		}
	}
	return nil
}

// ImportTaskLifecycle persists every task status change through the task store.
type ImportTaskLifecycle struct {
	Tasks ImportTaskStore
	Now   func() time.Time
}

func NewImportTaskLifecycle(tasks ImportTaskStore) *ImportTaskLifecycle {
	return &ImportTaskLifecycle{
		Tasks: tasks,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Create stores a pending task. An empty id is generated.
func (l *ImportTaskLifecycle) Create(
	ctx context.Context,
	id string,
	connectionID string,
	taskType ImportTaskType,
	snapshot ImportConfigSnapshot,
) (ImportTask, error) {
	if l == nil || l.Tasks == nil {
		return ImportTask{}, fmt.Errorf("core: import task store is required")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return ImportTask{}, fmt.Errorf("core: connection id is required")
	}
	if err := taskType.Validate(); err != nil {
		return ImportTask{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	now := l.now()
	return l.Tasks.Create(ctx, ImportTask{
		ID:           id,
		ConnectionID: connectionID,
		TaskType:     taskType,
		Status:       ImportTaskStatusPending,
		Config:       cloneSnapshot(snapshot),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (l *ImportTaskLifecycle) Start(ctx context.Context, task ImportTask) (ImportTask, error) {
	if err := task.Transition(ImportTaskStatusRunning, l.now()); err != nil {
		return task, err
	}
	return l.Tasks.Update(ctx, task)
}

func (l *ImportTaskLifecycle) Progress(ctx context.Context, task ImportTask, processed int, total int) (ImportTask, error) {
	if task.Status != ImportTaskStatusRunning {
		return task, fmt.Errorf("%w: progress on %s task", ErrInvalidImportTaskTransition, task.Status)
	}
	task.Progress = processed
	task.TotalRecords = total
	task.UpdatedAt = l.now()
	return l.Tasks.Update(ctx, task)
}

// Finish records the run result and moves the task to its terminal status.
func (l *ImportTaskLifecycle) Finish(ctx context.Context, task ImportTask, result ImportResult) (ImportTask, error) {
	if err := task.Transition(result.Status, l.now()); err != nil {
		return task, err
	}
	stats := result.Stats.Clone()
	task.Stats = &stats
	task.TotalRecords = result.TotalRecords
	task.Progress = result.TotalRecords
	task.PreviewData = append([]SampleRecord(nil), result.Samples...)
	if result.Status == ImportTaskStatusFailed {
		task.ErrorMessage = result.FailureMessage()
	}
	return l.Tasks.Update(ctx, task)
}

func (l *ImportTaskLifecycle) Fail(ctx context.Context, task ImportTask, message string) (ImportTask, error) {
	if err := task.Transition(ImportTaskStatusFailed, l.now()); err != nil {
		return task, err
	}
	task.ErrorMessage = strings.TrimSpace(message)
	return l.Tasks.Update(ctx, task)
}

func (l *ImportTaskLifecycle) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func cloneSnapshot(in ImportConfigSnapshot) ImportConfigSnapshot {
	out := ImportConfigSnapshot{DryRun: in.DryRun}
	if len(in.FieldMapping) > 0 {
		out.FieldMapping = make(map[string]string, len(in.FieldMapping))
		for key, value := range in.FieldMapping {
			out.FieldMapping[key] = value
		}
	}
	out.Mappings = append([]AttributeMapping(nil), in.Mappings...)
	return out
}
