package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-identity-sync/core"
)

type ImportService interface {
	TriggerImport(ctx context.Context, req core.TriggerImportRequest) (core.TriggerImportResult, error)
	RunImportTask(ctx context.Context, taskID string) error
}

type ConnectionService interface {
	SaveConnection(ctx context.Context, req core.SaveConnectionRequest) (core.ConnectionConfig, error)
}

type TriggerImportCommand struct {
	service ImportService
}

func NewTriggerImportCommand(service ImportService) *TriggerImportCommand {
	return &TriggerImportCommand{service: service}
}

// Execute stores the trigger result in the context collector when one is
// attached; live runs only carry the task id.
func (c *TriggerImportCommand) Execute(ctx context.Context, msg TriggerImportMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: import service is required")
	}
	out, err := c.service.TriggerImport(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RunImportTaskCommand struct {
	service ImportService
}

func NewRunImportTaskCommand(service ImportService) *RunImportTaskCommand {
	return &RunImportTaskCommand{service: service}
}

func (c *RunImportTaskCommand) Execute(ctx context.Context, msg RunImportTaskMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: import service is required")
	}
	return c.service.RunImportTask(ctx, msg.TaskID)
}

type SaveConnectionCommand struct {
	service ConnectionService
}

func NewSaveConnectionCommand(service ConnectionService) *SaveConnectionCommand {
	return &SaveConnectionCommand{service: service}
}

func (c *SaveConnectionCommand) Execute(ctx context.Context, msg SaveConnectionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	out, err := c.service.SaveConnection(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
