package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ ImportService   = (*Service)(nil)
	_ ConnectionLease = (*MemoryConnectionLease)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
