package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity-sync/core"
)

type stubService struct {
	trigger    core.TriggerImportRequest
	triggerErr error
	preview    core.PreviewRequest
	saved      core.SaveConnectionRequest
	listLimit  int
	task       core.ImportTask
	taskErr    error
}

func (s *stubService) TriggerImport(_ context.Context, req core.TriggerImportRequest) (core.TriggerImportResult, error) {
	s.trigger = req
	if s.triggerErr != nil {
		return core.TriggerImportResult{}, s.triggerErr
	}
	if req.DryRun {
		return core.TriggerImportResult{
			Success: true,
			TaskID:  "dry-1",
			DryRun:  true,
			Results: &core.DryRunResults{TotalRecords: 2, WouldCreate: 1, WouldSkip: 1, Errors: []string{}, ValidationIssues: []string{}},
		}, nil
	}
	return core.TriggerImportResult{Success: true, TaskID: "task-1"}, nil
}

func (s *stubService) RunImportTask(context.Context, string) error {
	return nil
}

func (s *stubService) PreviewImport(_ context.Context, req core.PreviewRequest) (core.PreviewResult, error) {
	s.preview = req
	return core.PreviewResult{SampledRecords: 1, DetectedFields: []string{"email"}}, nil
}

func (s *stubService) GetImportTask(_ context.Context, taskID string) (core.ImportTask, error) {
	if s.taskErr != nil {
		return core.ImportTask{}, s.taskErr
	}
	task := s.task
	task.ID = taskID
	return task, nil
}

func (s *stubService) ListImportTasks(_ context.Context, connectionID string, limit int) ([]core.ImportTask, error) {
	s.listLimit = limit
	return []core.ImportTask{{ID: "task-1", ConnectionID: connectionID, Status: core.ImportTaskStatusCompleted}}, nil
}

func (s *stubService) GetConnectionStatus(_ context.Context, connectionID string) (core.ConnectionStatus, error) {
	return core.ConnectionStatus{ConnectionID: connectionID, SyncStatus: core.SyncStatusRunning}, nil
}

func (s *stubService) SaveConnection(_ context.Context, req core.SaveConnectionRequest) (core.ConnectionConfig, error) {
	s.saved = req
	saved := req.Config
	saved.SyncStatus = core.SyncStatusIdle
	if req.Credentials != nil {
		saved.CredentialRef = []byte("sealed")
	}
	return saved, nil
}

func (s *stubService) DueConnections(context.Context, time.Time) ([]core.ConnectionConfig, error) {
	return nil, nil
}

func serve(t *testing.T, svc core.ImportService, method string, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	router, err := NewRouter(svc)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestNewHandler_RequiresService(t *testing.T) {
	if _, err := NewHandler(nil); err == nil {
		t.Fatalf("expected error for nil service")
	}
}

func TestTriggerImport_DryRunReturnsResults(t *testing.T) {
	svc := &stubService{}
	rec := serve(t, svc, http.MethodPost, "/connections/okta/import",
		`{"dryRun":true,"fieldMapping":{"profile.login":"username"},"taskType":"users"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.trigger.ConnectionID != "okta" || !svc.trigger.DryRun || svc.trigger.TaskType != core.ImportTaskTypeUsers {
		t.Fatalf("unexpected trigger request %#v", svc.trigger)
	}
	if svc.trigger.FieldMapping["profile.login"] != "username" {
		t.Fatalf("expected field mapping forwarded, got %#v", svc.trigger.FieldMapping)
	}
	body := decodeBody(t, rec)
	if body["taskId"] != "dry-1" || body["dryRun"] != true {
		t.Fatalf("unexpected body %#v", body)
	}
	results, ok := body["results"].(map[string]any)
	if !ok || results["wouldCreate"] != float64(1) || results["totalRecords"] != float64(2) {
		t.Fatalf("unexpected results %#v", body["results"])
	}
}

func TestTriggerImport_LiveIsAcceptedWithEmptyBody(t *testing.T) {
	svc := &stubService{}
	rec := serve(t, svc, http.MethodPost, "/connections/okta/import", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["taskId"] != "task-1" {
		t.Fatalf("unexpected body %#v", body)
	}
	if _, present := body["results"]; present {
		t.Fatalf("expected no results on a live trigger")
	}
}

func TestTriggerImport_BlankDestinationIsSkipped(t *testing.T) {
	svc := &stubService{}
	rec := serve(t, svc, http.MethodPost, "/connections/okta/import",
		`{"dryRun":true,"fieldMapping":{"login":"username","mail":"email","nickName":""}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.trigger.ConnectionID != "okta" {
		t.Fatalf("expected the service to receive the trigger")
	}
	resolved := core.ResolveMappings(svc.trigger.FieldMapping, nil)
	if len(resolved) != 2 {
		t.Fatalf("expected two resolved mappings, got %#v", resolved)
	}
	for _, mapping := range resolved {
		if mapping.Source == "nickName" {
			t.Fatalf("expected blank destination to be skipped, got %#v", resolved)
		}
	}
}

func TestTriggerImport_RejectsInvalidBodies(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{name: "malformed json", body: `{"dryRun":`},
		{name: "unknown task type", body: `{"taskType":"devices"}`, field: "taskType"},
		{name: "empty mapping source", body: `{"fieldMapping":{"":"email"}}`, field: "fieldMapping[]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{}
			rec := serve(t, svc, http.MethodPost, "/connections/okta/import", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if svc.trigger.ConnectionID != "" {
				t.Fatalf("expected service not to be called")
			}
			body := decodeBody(t, rec)
			envelope, _ := body["error"].(map[string]any)
			if body["success"] != false || envelope["text_code"] != core.ImportErrorBadInput {
				t.Fatalf("unexpected error envelope %#v", body)
			}
			if tc.field == "" {
				return
			}
			metadata, _ := envelope["metadata"].(map[string]any)
			fields, _ := metadata["fields"].([]any)
			if len(fields) == 0 {
				t.Fatalf("expected field errors, got %#v", envelope)
			}
			first, _ := fields[0].(map[string]any)
			if first["field"] != tc.field {
				t.Fatalf("expected field %q, got %#v", tc.field, first)
			}
		})
	}
}

func TestTriggerImport_LeaseConflictIsConflict(t *testing.T) {
	busy := goerrors.New("connection is busy", goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(core.ImportErrorConnectionBusy).
		WithMetadata(map[string]any{"connection_id": "okta"})
	rec := serve(t, &stubService{triggerErr: busy}, http.MethodPost, "/connections/okta/import", `{}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	envelope := body["error"].(map[string]any)
	if envelope["text_code"] != core.ImportErrorConnectionBusy || envelope["code"] != float64(http.StatusConflict) {
		t.Fatalf("unexpected envelope %#v", envelope)
	}
	metadata := envelope["metadata"].(map[string]any)
	if metadata["connection_id"] != "okta" {
		t.Fatalf("expected metadata passthrough, got %#v", metadata)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	svc := &stubService{taskErr: core.ErrImportTaskNotFound}
	rec := serve(t, svc, http.MethodGet, "/tasks/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["error"].(map[string]any)["text_code"] != core.ImportErrorTaskNotFound {
		t.Fatalf("unexpected envelope %#v", body)
	}
}

func TestGetTask_RendersTask(t *testing.T) {
	svc := &stubService{task: core.ImportTask{
		ConnectionID: "okta",
		TaskType:     core.ImportTaskTypeAll,
		Status:       core.ImportTaskStatusRunning,
		TotalRecords: 10,
		Progress:     4,
	}}
	rec := serve(t, svc, http.MethodGet, "/tasks/task-7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["id"] != "task-7" || body["status"] != "running" || body["progress"] != float64(4) {
		t.Fatalf("unexpected task body %#v", body)
	}
}

func TestListTasks_ParsesLimit(t *testing.T) {
	svc := &stubService{}
	rec := serve(t, svc, http.MethodGet, "/connections/okta/tasks?limit=25", "")
	if rec.Code != http.StatusOK || svc.listLimit != 25 {
		t.Fatalf("expected limit 25, got status %d limit %d", rec.Code, svc.listLimit)
	}
	items := decodeBody(t, rec)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one task, got %#v", items)
	}

	rec = serve(t, svc, http.MethodGet, "/connections/okta/tasks?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad limit, got %d", rec.Code)
	}
}

func TestConnectionStatusAndPreview(t *testing.T) {
	svc := &stubService{}
	rec := serve(t, svc, http.MethodGet, "/connections/okta/status", "")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["sync_status"] != "running" {
		t.Fatalf("unexpected status response %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, svc, http.MethodPost, "/connections/okta/preview", `{"taskType":"groups"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.preview.ConnectionID != "okta" || svc.preview.TaskType != core.ImportTaskTypeGroups {
		t.Fatalf("unexpected preview request %#v", svc.preview)
	}
}

func TestSaveConnection_HidesCredentials(t *testing.T) {
	svc := &stubService{}
	rec := serve(t, svc, http.MethodPut, "/connections/hr", `{
		"name":"HR",
		"sourceType":"custom_url",
		"usersUrl":"https://hr.example/users",
		"enableUserImport":true,
		"syncIntervalSeconds":3600,
		"attributeMappings":[{"source":"mail","destination":"email","transform":"s/@.*//"}],
		"credentials":{"apiKey":"secret-key"}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.saved.Config.ID != "hr" || svc.saved.Config.SyncInterval != time.Hour {
		t.Fatalf("unexpected saved config %#v", svc.saved.Config)
	}
	if svc.saved.Credentials == nil || svc.saved.Credentials.APIKey != "secret-key" {
		t.Fatalf("expected credentials forwarded")
	}
	if strings.Contains(rec.Body.String(), "secret-key") || strings.Contains(rec.Body.String(), "sealed") {
		t.Fatalf("expected credentials to stay out of the response: %s", rec.Body.String())
	}
	if decodeBody(t, rec)["hasCredentials"] != true {
		t.Fatalf("expected hasCredentials flag")
	}
}

func TestSaveConnection_ValidatesBody(t *testing.T) {
	svc := &stubService{}
	rec := serve(t, svc, http.MethodPut, "/connections/hr", `{"sourceType":"scim","usersUrl":"not a url"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if svc.saved.Config.ID != "" {
		t.Fatalf("expected service not to be called")
	}
}
