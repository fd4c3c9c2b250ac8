package core

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestTriggerImport_DryRunIsSynchronous(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(testConnection("c1"))
	h.fetcher.records[ResourceUsers] = []SourceRecord{
		{"username": "ada", "email": "ada@example.com"},
		{"username": "grace", "email": "grace@example.com"},
	}

	result, err := h.service.TriggerImport(ctx, TriggerImportRequest{
		ConnectionID: "c1",
		DryRun:       true,
		FieldMapping: userMapping(),
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !result.Success || !result.DryRun || result.Results == nil {
		t.Fatalf("unexpected result %#v", result)
	}
	if result.Results.WouldCreate != 2 || result.Results.WouldUpdate != 0 || result.Results.WouldSkip != 0 {
		t.Fatalf("unexpected counts %#v", result.Results)
	}
	task, err := h.service.GetImportTask(ctx, result.TaskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != ImportTaskStatusCompleted || !task.Config.DryRun {
		t.Fatalf("expected completed dry run task, got %#v", task)
	}
	want := []ImportTaskStatus{ImportTaskStatusPending, ImportTaskStatusRunning, ImportTaskStatusCompleted}
	if got := h.tasks.statuses(task.ID); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
	if len(h.enqueuer.messages) != 0 {
		t.Fatalf("dry run must not enqueue")
	}
	conn, _ := h.connections.Get(ctx, "c1")
	if conn.SyncStatus != SyncStatusIdle || conn.ImportStats != nil {
		t.Fatalf("dry run must not touch connection status, got %#v", conn)
	}
}

func TestTriggerImport_LiveQueuesAndWorkerCompletes(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(testConnection("c1"), Identity{ID: "u1", Username: "ada", Email: "ada@example.com"})
	h.fetcher.records[ResourceUsers] = []SourceRecord{
		{"username": "ada-new", "email": "ada@example.com"},
	}

	result, err := h.service.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "c1", FieldMapping: userMapping()})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !result.Success || result.TaskID == "" || result.Results != nil {
		t.Fatalf("unexpected live result %#v", result)
	}
	if len(h.enqueuer.messages) != 1 {
		t.Fatalf("expected one queued message, got %d", len(h.enqueuer.messages))
	}
	msg := h.enqueuer.messages[0]
	if msg.JobID != ImportJobID || msg.Parameters[ImportJobParamTaskID] != result.TaskID {
		t.Fatalf("unexpected message %#v", msg)
	}
	task, _ := h.service.GetImportTask(ctx, result.TaskID)
	if task.Status != ImportTaskStatusPending {
		t.Fatalf("expected pending task before worker runs, got %q", task.Status)
	}
	status, _ := h.service.GetConnectionStatus(ctx, "c1")
	if status.SyncStatus != SyncStatusRunning {
		t.Fatalf("expected running connection, got %q", status.SyncStatus)
	}

	if err := h.service.RunImportTask(ctx, result.TaskID); err != nil {
		t.Fatalf("run task: %v", err)
	}
	task, _ = h.service.GetImportTask(ctx, result.TaskID)
	if task.Status != ImportTaskStatusCompleted || task.Stats == nil || task.Stats.UsersUpdated != 1 {
		t.Fatalf("unexpected finished task %#v", task)
	}
	if h.identities.count() != 1 {
		t.Fatalf("expected no duplicate identity")
	}
	status, _ = h.service.GetConnectionStatus(ctx, "c1")
	if status.SyncStatus != SyncStatusCompleted || status.ImportStats == nil || status.ImportStats.UsersUpdated != 1 {
		t.Fatalf("unexpected connection status %#v", status)
	}
	if status.LastSyncAt == nil {
		t.Fatalf("expected last sync time")
	}

	if err := h.service.RunImportTask(ctx, result.TaskID); err != nil {
		t.Fatalf("redelivery of a finished task should be a no-op: %v", err)
	}
}

func TestTriggerImport_LeaseConflict(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(testConnection("c1"))

	first, err := h.service.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "c1", FieldMapping: userMapping()})
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	_, err = h.service.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "c1", FieldMapping: userMapping()})
	if err == nil {
		t.Fatalf("expected lease conflict")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ImportErrorConnectionBusy || richErr.Code != http.StatusConflict {
		t.Fatalf("unexpected conflict error %#v", richErr)
	}

	if err := h.service.RunImportTask(ctx, first.TaskID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := h.service.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "c1", FieldMapping: userMapping()}); err != nil {
		t.Fatalf("expected lease to be released after the run: %v", err)
	}
}

func TestFailImportTask_ReleasesConnection(t *testing.T) {
	ctx := context.Background()
	conn := testConnection("c1")
	conn.SyncInterval = time.Hour
	h := newTestHarness(conn)

	result, err := h.service.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "c1", FieldMapping: userMapping()})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := h.service.FailImportTask(ctx, result.TaskID, "retries exhausted"); err != nil {
		t.Fatalf("fail task: %v", err)
	}

	task, _ := h.service.GetImportTask(ctx, result.TaskID)
	if task.Status != ImportTaskStatusFailed || task.ErrorMessage != "retries exhausted" {
		t.Fatalf("expected failed task, got %#v", task)
	}
	stored, _ := h.connections.Get(ctx, "c1")
	if stored.SyncStatus != SyncStatusFailed || stored.LastError != "retries exhausted" {
		t.Fatalf("expected failed connection status, got %#v", stored)
	}
	if !stored.Due(stored.LastSyncAt.Add(time.Hour)) {
		t.Fatalf("expected connection to be due after the interval")
	}
	if _, err := h.service.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "c1", FieldMapping: userMapping()}); err != nil {
		t.Fatalf("expected lease to be released: %v", err)
	}

	if err := h.service.FailImportTask(ctx, result.TaskID, "again"); err != nil {
		t.Fatalf("failing a terminal task should be a no-op: %v", err)
	}
	task, _ = h.service.GetImportTask(ctx, result.TaskID)
	if task.ErrorMessage != "retries exhausted" {
		t.Fatalf("terminal task must not change, got %q", task.ErrorMessage)
	}
}

func TestTriggerImport_EnqueueFailureFailsTask(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(testConnection("c1"))
	h.enqueuer.err = errors.New("queue full")

	result, err := h.service.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "c1", FieldMapping: userMapping()})
	if err == nil {
		t.Fatalf("expected enqueue error")
	}
	task, getErr := h.service.GetImportTask(ctx, result.TaskID)
	if getErr != nil {
		t.Fatalf("get task: %v", getErr)
	}
	if task.Status != ImportTaskStatusFailed || !strings.Contains(task.ErrorMessage, "queue full") {
		t.Fatalf("expected failed task, got %#v", task)
	}
	h.enqueuer.err = nil
	if _, err := h.service.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "c1", FieldMapping: userMapping()}); err != nil {
		t.Fatalf("expected lease released after dispatch failure: %v", err)
	}
}

func TestTriggerImport_AuthFailureFailsRun(t *testing.T) {
	ctx := context.Background()
	conn := testConnection("c1")
	conn.CredentialRef = []byte("garbage")
	h := newTestHarness(conn)

	result, err := h.service.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "c1", DryRun: true, FieldMapping: userMapping()})
	if err != nil {
		t.Fatalf("dry run failures are reported in the result: %v", err)
	}
	if result.Success || len(result.Results.Errors) != 1 {
		t.Fatalf("expected failed dry run with one error, got %#v", result)
	}
	if len(h.fetcher.requests) != 0 {
		t.Fatalf("expected no fetch after auth failure")
	}
}

func TestTriggerImport_Errors(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(testConnection("c1"))

	_, err := h.service.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "missing", DryRun: true})
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != ImportErrorConnectionNotFound || richErr.Code != http.StatusNotFound {
		t.Fatalf("expected connection not found, got %v", err)
	}

	_, err = h.service.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "c1", DryRun: true, TaskType: "members"})
	if !goerrors.As(err, &richErr) || richErr.Code != http.StatusBadRequest {
		t.Fatalf("expected bad task type, got %v", err)
	}

	_, err = h.service.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "c1", DryRun: true, TaskType: ImportTaskTypeGroups})
	if err == nil {
		t.Fatalf("expected error when group import is disabled")
	}
}

func TestTriggerImport_StrictTransforms(t *testing.T) {
	ctx := context.Background()
	conn := testConnection("c1")
	conn.AttributeMappings = []AttributeMapping{{Source: "mail", Destination: "email", Transform: "lowercase"}}
	store := newMemoryConnectionStore(conn)
	svc, err := NewService(Config{Import: ImportConfig{StrictTransforms: true}},
		WithLogger(stubLogger{}),
		WithConnectionStore(store),
		WithIdentityStore(newMemoryIdentityStore()),
		WithGroupStore(newMemoryGroupStore()),
		WithImportTaskStore(newMemoryTaskStore()),
		WithFetcherResolver(stubFetcherResolver{fetcher: &stubFetcher{}}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "c1", DryRun: true})
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTriggerImport_LenientTransformsReportIssues(t *testing.T) {
	ctx := context.Background()
	conn := testConnection("c1")
	conn.AttributeMappings = []AttributeMapping{
		{Source: "username", Destination: "username"},
		{Source: "email", Destination: "email", Transform: "lowercase"},
	}
	h := newTestHarness(conn)
	h.fetcher.records[ResourceUsers] = []SourceRecord{{"username": "ada", "email": "ada@example.com"}}

	result, err := h.service.TriggerImport(ctx, TriggerImportRequest{ConnectionID: "c1", DryRun: true})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if result.Results.WouldCreate != 1 || len(result.Results.ValidationIssues) != 1 {
		t.Fatalf("expected pass-through with one issue, got %#v", result.Results)
	}
	if result.Results.SampleProcessedUsers[0].Mapped.String("email") != "ada@example.com" {
		t.Fatalf("expected unchanged email")
	}
}

func TestPreviewImport_DetectsFieldsAndSuggests(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(testConnection("c1"))
	for i := 0; i < 8; i++ {
		h.fetcher.records[ResourceUsers] = append(h.fetcher.records[ResourceUsers], SourceRecord{
			"id":           i,
			"emailAddress": "u@example.com",
			"firstName":    "Ada",
			"surname":      "",
			"jobTitle":     "Engineer",
		})
	}

	preview, err := h.service.PreviewImport(ctx, PreviewRequest{ConnectionID: "c1"})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.SampledRecords != 5 {
		t.Fatalf("expected custom url sample size 5, got %d", preview.SampledRecords)
	}
	wantFields := []string{"emailAddress", "firstName", "id", "jobTitle"}
	if !reflect.DeepEqual(preview.DetectedFields, wantFields) {
		t.Fatalf("expected %v, got %v", wantFields, preview.DetectedFields)
	}
	wantMappings := map[string]string{
		"emailAddress": "email",
		"firstName":    "first_name",
		"id":           "external_id",
		"jobTitle":     "title",
	}
	if !reflect.DeepEqual(preview.SuggestedMappings, wantMappings) {
		t.Fatalf("expected %v, got %v", wantMappings, preview.SuggestedMappings)
	}
}

func TestSaveConnection_SealsCredentials(t *testing.T) {
	ctx := context.Background()
	h := newTestHarness(testConnection("c1"))

	conn := testConnection("c2")
	conn.SourceType = SourceTypeCloudIdP
	conn.BaseURL = "https://idp.example.test"
	saved, err := h.service.SaveConnection(ctx, SaveConnectionRequest{
		Config:      conn,
		Credentials: &Credentials{ClientID: "client", ClientSecret: "secret"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if strings.Contains(string(saved.CredentialRef), "secret") {
		t.Fatalf("credentials stored in plaintext")
	}
	creds, err := NewSealedCredentialResolver(testSecretProvider{}).Resolve(ctx, saved)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if creds.ClientID != "client" || creds.ClientSecret != "secret" {
		t.Fatalf("unexpected credentials %#v", creds)
	}

	_, err = h.service.SaveConnection(ctx, SaveConnectionRequest{Config: ConnectionConfig{ID: "c3", SourceType: SourceTypeCloudIdP}})
	if err == nil {
		t.Fatalf("expected validation error for missing base url")
	}
}

func TestDueConnections(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)
	old := now.Add(-2 * time.Hour)

	due := testConnection("due")
	due.SyncInterval = time.Hour
	due.LastSyncAt = &old
	fresh := testConnection("fresh")
	fresh.SyncInterval = time.Hour
	fresh.LastSyncAt = &recent
	manual := testConnection("manual")

	h := newTestHarness(due)
	_, _ = h.connections.Save(context.Background(), fresh)
	_, _ = h.connections.Save(context.Background(), manual)

	list, err := h.service.DueConnections(context.Background(), now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(list) != 1 || list[0].ID != "due" {
		t.Fatalf("expected only the due connection, got %#v", list)
	}
}
