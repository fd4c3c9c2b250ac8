package command

import (
	"strings"

	"github.com/goliatone/go-identity-sync/core"
)

const (
	TypeTriggerImport  = "identity_sync.command.import.trigger"
	TypeRunImportTask  = "identity_sync.command.import.run"
	TypeSaveConnection = "identity_sync.command.connection.save"
)

type TriggerImportMessage struct {
	Request core.TriggerImportRequest
}

func (TriggerImportMessage) Type() string { return TypeTriggerImport }

func (m TriggerImportMessage) Validate() error {
	if strings.TrimSpace(m.Request.ConnectionID) == "" {
		return commandValidationError("connection_id", "connection id is required")
	}
	if m.Request.TaskType != "" {
		if err := m.Request.TaskType.Validate(); err != nil {
			return commandWrapValidation(err, "command: invalid task type")
		}
	}
	for source, destination := range m.Request.FieldMapping {
		if strings.TrimSpace(source) == "" {
			return commandValidationError("field_mapping", "source field must not be blank")
		}
		if strings.TrimSpace(destination) == "" {
			return commandValidationError("field_mapping", "destination for "+source+" must not be blank")
		}
	}
	return nil
}

type RunImportTaskMessage struct {
	TaskID string
}

func (RunImportTaskMessage) Type() string { return TypeRunImportTask }

func (m RunImportTaskMessage) Validate() error {
	if strings.TrimSpace(m.TaskID) == "" {
		return commandValidationError("task_id", "task id is required")
	}
	return nil
}

type SaveConnectionMessage struct {
	Request core.SaveConnectionRequest
}

func (SaveConnectionMessage) Type() string { return TypeSaveConnection }

func (m SaveConnectionMessage) Validate() error {
	if err := m.Request.Config.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid connection config")
	}
	return nil
}
