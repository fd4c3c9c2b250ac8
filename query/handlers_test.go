package query

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-identity-sync/core"
)

type stubReader struct {
	previewFn func(ctx context.Context, req core.PreviewRequest) (core.PreviewResult, error)
	getFn     func(ctx context.Context, taskID string) (core.ImportTask, error)
	listFn    func(ctx context.Context, connectionID string, limit int) ([]core.ImportTask, error)
	statusFn  func(ctx context.Context, connectionID string) (core.ConnectionStatus, error)
}

func (s stubReader) PreviewImport(ctx context.Context, req core.PreviewRequest) (core.PreviewResult, error) {
	return s.previewFn(ctx, req)
}

func (s stubReader) GetImportTask(ctx context.Context, taskID string) (core.ImportTask, error) {
	return s.getFn(ctx, taskID)
}

func (s stubReader) ListImportTasks(ctx context.Context, connectionID string, limit int) ([]core.ImportTask, error) {
	return s.listFn(ctx, connectionID, limit)
}

func (s stubReader) GetConnectionStatus(ctx context.Context, connectionID string) (core.ConnectionStatus, error) {
	return s.statusFn(ctx, connectionID)
}

func TestPreviewImportQuery_QueryDelegates(t *testing.T) {
	reader := stubReader{
		previewFn: func(_ context.Context, req core.PreviewRequest) (core.PreviewResult, error) {
			if req.ConnectionID != "okta" || req.TaskType != core.ImportTaskTypeUsers {
				t.Fatalf("unexpected preview request %#v", req)
			}
			return core.PreviewResult{
				SampledRecords:    2,
				DetectedFields:    []string{"email", "login"},
				SuggestedMappings: map[string]string{"email": "email", "login": "username"},
			}, nil
		},
	}
	result, err := NewPreviewImportQuery(reader).Query(context.Background(), PreviewImportMessage{
		Request: core.PreviewRequest{ConnectionID: "okta", TaskType: core.ImportTaskTypeUsers},
	})
	if err != nil {
		t.Fatalf("query preview: %v", err)
	}
	if result.SampledRecords != 2 || result.SuggestedMappings["login"] != "username" {
		t.Fatalf("unexpected preview result %#v", result)
	}
}

func TestImportTaskQueries_QueryDelegates(t *testing.T) {
	completed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	reader := stubReader{
		getFn: func(_ context.Context, taskID string) (core.ImportTask, error) {
			if taskID != "task_1" {
				t.Fatalf("unexpected task id %q", taskID)
			}
			return core.ImportTask{ID: taskID, Status: core.ImportTaskStatusCompleted, CompletedAt: &completed}, nil
		},
		listFn: func(_ context.Context, connectionID string, limit int) ([]core.ImportTask, error) {
			if connectionID != "okta" || limit != 10 {
				t.Fatalf("unexpected list args %q %d", connectionID, limit)
			}
			return []core.ImportTask{{ID: "task_2"}, {ID: "task_1"}}, nil
		},
	}

	task, err := NewGetImportTaskQuery(reader).Query(context.Background(), GetImportTaskMessage{TaskID: "task_1"})
	if err != nil {
		t.Fatalf("query task: %v", err)
	}
	if task.Status != core.ImportTaskStatusCompleted || task.CompletedAt == nil {
		t.Fatalf("unexpected task %#v", task)
	}

	tasks, err := NewListImportTasksQuery(reader).Query(context.Background(), ListImportTasksMessage{ConnectionID: "okta", Limit: 10})
	if err != nil {
		t.Fatalf("query tasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "task_2" {
		t.Fatalf("unexpected task list %#v", tasks)
	}
}

func TestGetConnectionStatusQuery_QueryDelegates(t *testing.T) {
	reader := stubReader{
		statusFn: func(_ context.Context, connectionID string) (core.ConnectionStatus, error) {
			return core.ConnectionStatus{
				ConnectionID: connectionID,
				SyncStatus:   core.SyncStatusCompletedWithErrors,
				ImportStats:  &core.ImportStats{UsersCreated: 4, Errors: []string{"record 2 (bob): email is invalid"}},
				LastError:    "1 record failed",
			}, nil
		},
	}
	status, err := NewGetConnectionStatusQuery(reader).Query(context.Background(), GetConnectionStatusMessage{ConnectionID: "okta"})
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status.ConnectionID != "okta" || status.SyncStatus != core.SyncStatusCompletedWithErrors {
		t.Fatalf("unexpected status %#v", status)
	}
	if status.ImportStats == nil || status.ImportStats.UsersCreated != 4 {
		t.Fatalf("expected import stats, got %#v", status.ImportStats)
	}
}

func TestQueryMessages_Validate(t *testing.T) {
	if err := (PreviewImportMessage{Request: core.PreviewRequest{ConnectionID: "okta", TaskType: "devices"}}).Validate(); err == nil {
		t.Fatalf("expected invalid task type to fail")
	}
	if err := (GetImportTaskMessage{}).Validate(); err == nil {
		t.Fatalf("expected missing task id to fail")
	}
	if err := (ListImportTasksMessage{ConnectionID: "okta", Limit: 501}).Validate(); err == nil {
		t.Fatalf("expected oversized limit to fail")
	}
	if err := (GetConnectionStatusMessage{ConnectionID: "okta"}).Validate(); err != nil {
		t.Fatalf("unexpected status validation error: %v", err)
	}
}
