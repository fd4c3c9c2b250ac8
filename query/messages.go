package query

import (
	"strings"

	"github.com/goliatone/go-identity-sync/core"
)

const (
	TypePreviewImport       = "identity_sync.query.import.preview"
	TypeGetImportTask       = "identity_sync.query.task.get"
	TypeListImportTasks     = "identity_sync.query.task.list"
	TypeGetConnectionStatus = "identity_sync.query.connection.status"

	maxListLimit = 500
)

type PreviewImportMessage struct {
	Request core.PreviewRequest
}

func (PreviewImportMessage) Type() string { return TypePreviewImport }

func (m PreviewImportMessage) Validate() error {
	if strings.TrimSpace(m.Request.ConnectionID) == "" {
		return queryValidationError("connection_id", "connection id is required")
	}
	if m.Request.TaskType != "" {
		if err := m.Request.TaskType.Validate(); err != nil {
			return queryWrapValidation(err, "query: invalid task type")
		}
	}
	return nil
}

type GetImportTaskMessage struct {
	TaskID string
}

func (GetImportTaskMessage) Type() string { return TypeGetImportTask }

func (m GetImportTaskMessage) Validate() error {
	if strings.TrimSpace(m.TaskID) == "" {
		return queryValidationError("task_id", "task id is required")
	}
	return nil
}

type ListImportTasksMessage struct {
	ConnectionID string
	Limit        int
}

func (ListImportTasksMessage) Type() string { return TypeListImportTasks }

func (m ListImportTasksMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return queryValidationError("connection_id", "connection id is required")
	}
	if m.Limit < 0 || m.Limit > maxListLimit {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	return nil
}

type GetConnectionStatusMessage struct {
	ConnectionID string
}

func (GetConnectionStatusMessage) Type() string { return TypeGetConnectionStatus }

func (m GetConnectionStatusMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return queryValidationError("connection_id", "connection id is required")
	}
	return nil
}
