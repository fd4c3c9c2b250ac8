package identitysync

import (
	"fmt"

	syncommand "github.com/goliatone/go-identity-sync/command"
	"github.com/goliatone/go-identity-sync/core"
	syncquery "github.com/goliatone/go-identity-sync/query"
)

type Commands struct {
	TriggerImport  *syncommand.TriggerImportCommand
	RunImportTask  *syncommand.RunImportTaskCommand
	SaveConnection *syncommand.SaveConnectionCommand
}

type Queries struct {
	PreviewImport       *syncquery.PreviewImportQuery
	GetImportTask       *syncquery.GetImportTaskQuery
	ListImportTasks     *syncquery.ListImportTasksQuery
	GetConnectionStatus *syncquery.GetConnectionStatusQuery
}

// Facade groups the go-command handlers of an import service.
type Facade struct {
	service  core.ImportService
	commands Commands
	queries  Queries
}

func NewFacade(service core.ImportService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("identitysync: import service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			TriggerImport:  syncommand.NewTriggerImportCommand(service),
			RunImportTask:  syncommand.NewRunImportTaskCommand(service),
			SaveConnection: syncommand.NewSaveConnectionCommand(service),
		},
		queries: Queries{
			PreviewImport:       syncquery.NewPreviewImportQuery(service),
			GetImportTask:       syncquery.NewGetImportTaskQuery(service),
			ListImportTasks:     syncquery.NewListImportTasksQuery(service),
			GetConnectionStatus: syncquery.NewGetConnectionStatusQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() core.ImportService {
	if f == nil {
		return nil
	}
	return f.service
}
