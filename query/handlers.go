package query

import (
	"context"

	"github.com/goliatone/go-identity-sync/core"
)

type PreviewReader interface {
	PreviewImport(ctx context.Context, req core.PreviewRequest) (core.PreviewResult, error)
}

type ImportTaskReader interface {
	GetImportTask(ctx context.Context, taskID string) (core.ImportTask, error)
	ListImportTasks(ctx context.Context, connectionID string, limit int) ([]core.ImportTask, error)
}

type ConnectionStatusReader interface {
	GetConnectionStatus(ctx context.Context, connectionID string) (core.ConnectionStatus, error)
}

type PreviewImportQuery struct {
	reader PreviewReader
}

func NewPreviewImportQuery(reader PreviewReader) *PreviewImportQuery {
	return &PreviewImportQuery{reader: reader}
}

func (q *PreviewImportQuery) Query(ctx context.Context, msg PreviewImportMessage) (core.PreviewResult, error) {
	if q == nil || q.reader == nil {
		return core.PreviewResult{}, queryDependencyError("query: preview reader is required")
	}
	return q.reader.PreviewImport(ctx, msg.Request)
}

type GetImportTaskQuery struct {
	reader ImportTaskReader
}

func NewGetImportTaskQuery(reader ImportTaskReader) *GetImportTaskQuery {
	return &GetImportTaskQuery{reader: reader}
}

func (q *GetImportTaskQuery) Query(ctx context.Context, msg GetImportTaskMessage) (core.ImportTask, error) {
	if q == nil || q.reader == nil {
		return core.ImportTask{}, queryDependencyError("query: import task reader is required")
	}
	return q.reader.GetImportTask(ctx, msg.TaskID)
}

type ListImportTasksQuery struct {
	reader ImportTaskReader
}

func NewListImportTasksQuery(reader ImportTaskReader) *ListImportTasksQuery {
	return &ListImportTasksQuery{reader: reader}
}

func (q *ListImportTasksQuery) Query(ctx context.Context, msg ListImportTasksMessage) ([]core.ImportTask, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: import task reader is required")
	}
	return q.reader.ListImportTasks(ctx, msg.ConnectionID, msg.Limit)
}

type GetConnectionStatusQuery struct {
	reader ConnectionStatusReader
}

func NewGetConnectionStatusQuery(reader ConnectionStatusReader) *GetConnectionStatusQuery {
	return &GetConnectionStatusQuery{reader: reader}
}

func (q *GetConnectionStatusQuery) Query(
	ctx context.Context,
	msg GetConnectionStatusMessage,
) (core.ConnectionStatus, error) {
	if q == nil || q.reader == nil {
		return core.ConnectionStatus{}, queryDependencyError("query: connection status reader is required")
	}
	return q.reader.GetConnectionStatus(ctx, msg.ConnectionID)
}
