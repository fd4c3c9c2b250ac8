package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-identity-sync/core"
)

var (
	_ gocmd.Querier[PreviewImportMessage, core.PreviewResult]          = (*PreviewImportQuery)(nil)
	_ gocmd.Querier[GetImportTaskMessage, core.ImportTask]             = (*GetImportTaskQuery)(nil)
	_ gocmd.Querier[ListImportTasksMessage, []core.ImportTask]         = (*ListImportTasksQuery)(nil)
	_ gocmd.Querier[GetConnectionStatusMessage, core.ConnectionStatus] = (*GetConnectionStatusQuery)(nil)
)
