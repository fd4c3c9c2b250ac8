package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[TriggerImportMessage]  = (*TriggerImportCommand)(nil)
	_ gocmd.Commander[RunImportTaskMessage]  = (*RunImportTaskCommand)(nil)
	_ gocmd.Commander[SaveConnectionMessage] = (*SaveConnectionCommand)(nil)
)
