package sync

import (
	"context"
	"sort"

	"github.com/goliatone/go-identity-sync/core"
)

func logEvent(ctx context.Context, logger core.Logger, level string, message string, fields map[string]any) {
	if logger == nil {
		return
	}
	fields = core.RedactSensitiveMap(fields)
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	if level == "error" {
		logger.Error(message, args...)
		return
	}
	logger.Info(message, args...)
}
