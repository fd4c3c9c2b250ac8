package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-identity-sync/core"
)

func newConnectionRecord(conn core.ConnectionConfig, now time.Time) *connectionRecord {
	record := &connectionRecord{
		ID:                  strings.TrimSpace(conn.ID),
		Name:                strings.TrimSpace(conn.Name),
		SourceType:          string(conn.SourceType),
		CredentialRef:       append([]byte(nil), conn.CredentialRef...),
		BaseURL:             strings.TrimSpace(conn.BaseURL),
		TokenURL:            strings.TrimSpace(conn.TokenURL),
		Scopes:              append([]string{}, conn.Scopes...),
		ImportURLs:          conn.ImportURLs,
		AttributeMappings:   append([]core.AttributeMapping{}, conn.AttributeMappings...),
		SyncIntervalSeconds: int64(conn.SyncInterval / time.Second),
		EnableUserImport:    conn.EnableUserImport,
		EnableGroupImport:   conn.EnableGroupImport,
		SyncStatus:          string(conn.SyncStatus),
		ImportStats:         cloneStats(conn.ImportStats),
		LastSyncAt:          cloneTimePointer(conn.LastSyncAt),
		LastError:           conn.LastError,
		LeaseHolder:         conn.LeaseHolder,
		LeaseExpiresAt:      cloneTimePointer(conn.LeaseExpiresAt),
		CreatedAt:           conn.CreatedAt,
		UpdatedAt:           now,
	}
	if record.SyncStatus == "" {
		record.SyncStatus = string(core.SyncStatusIdle)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	return record
}

func (r *connectionRecord) toDomain() core.ConnectionConfig {
	if r == nil {
		return core.ConnectionConfig{}
	}
	return core.ConnectionConfig{
		ID:                r.ID,
		Name:              r.Name,
		SourceType:        core.SourceType(r.SourceType),
		CredentialRef:     append([]byte(nil), r.CredentialRef...),
		BaseURL:           r.BaseURL,
		TokenURL:          r.TokenURL,
		Scopes:            append([]string(nil), r.Scopes...),
		ImportURLs:        r.ImportURLs,
		AttributeMappings: append([]core.AttributeMapping(nil), r.AttributeMappings...),
		SyncInterval:      time.Duration(r.SyncIntervalSeconds) * time.Second,
		EnableUserImport:  r.EnableUserImport,
		EnableGroupImport: r.EnableGroupImport,
		SyncStatus:        core.SyncStatus(r.SyncStatus),
		ImportStats:       cloneStats(r.ImportStats),
		LastSyncAt:        cloneTimePointer(r.LastSyncAt),
		LastError:         r.LastError,
		LeaseHolder:       r.LeaseHolder,
		LeaseExpiresAt:    cloneTimePointer(r.LeaseExpiresAt),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

func newIdentityRecord(identity core.Identity, now time.Time) *identityRecord {
	record := &identityRecord{
		ID:                 strings.TrimSpace(identity.ID),
		ExternalID:         strings.TrimSpace(identity.ExternalID),
		Username:           strings.TrimSpace(identity.Username),
		Email:              strings.TrimSpace(identity.Email),
		FirstName:          identity.FirstName,
		LastName:           identity.LastName,
		DisplayName:        identity.DisplayName,
		Attributes:         copyAnyMap(identity.Attributes),
		SourceConnectionID: strings.TrimSpace(identity.SourceConnectionID),
		CreatedAt:          identity.CreatedAt,
		UpdatedAt:          now,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	return record
}

func (r *identityRecord) toDomain() core.Identity {
	if r == nil {
		return core.Identity{}
	}
	return core.Identity{
		ID:                 r.ID,
		ExternalID:         r.ExternalID,
		Username:           r.Username,
		Email:              r.Email,
		FirstName:          r.FirstName,
		LastName:           r.LastName,
		DisplayName:        r.DisplayName,
		Attributes:         copyAnyMap(r.Attributes),
		SourceConnectionID: r.SourceConnectionID,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

func newGroupRecord(group core.Group, now time.Time) *groupRecord {
	record := &groupRecord{
		ID:                 strings.TrimSpace(group.ID),
		ExternalID:         strings.TrimSpace(group.ExternalID),
		Name:               strings.TrimSpace(group.Name),
		Description:        group.Description,
		Attributes:         copyAnyMap(group.Attributes),
		SourceConnectionID: strings.TrimSpace(group.SourceConnectionID),
		CreatedAt:          group.CreatedAt,
		UpdatedAt:          now,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	return record
}

func (r *groupRecord) toDomain() core.Group {
	if r == nil {
		return core.Group{}
	}
	return core.Group{
		ID:                 r.ID,
		ExternalID:         r.ExternalID,
		Name:               r.Name,
		Description:        r.Description,
		Attributes:         copyAnyMap(r.Attributes),
		SourceConnectionID: r.SourceConnectionID,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

func newImportTaskRecord(task core.ImportTask, now time.Time) *importTaskRecord {
	record := &importTaskRecord{
		ID:           strings.TrimSpace(task.ID),
		ConnectionID: strings.TrimSpace(task.ConnectionID),
		TaskType:     string(task.TaskType),
		Status:       string(task.Status),
		Config:       task.Config,
		TotalRecords: task.TotalRecords,
		Progress:     task.Progress,
		Stats:        cloneStats(task.Stats),
		ErrorMessage: task.ErrorMessage,
		PreviewData:  append([]core.SampleRecord{}, task.PreviewData...),
		StartedAt:    cloneTimePointer(task.StartedAt),
		CompletedAt:  cloneTimePointer(task.CompletedAt),
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    now,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	return record
}

func (r *importTaskRecord) toDomain() core.ImportTask {
	if r == nil {
		return core.ImportTask{}
	}
	task := core.ImportTask{
		ID:           r.ID,
		ConnectionID: r.ConnectionID,
		TaskType:     core.ImportTaskType(r.TaskType),
		Status:       core.ImportTaskStatus(r.Status),
		Config:       r.Config,
		TotalRecords: r.TotalRecords,
		Progress:     r.Progress,
		Stats:        cloneStats(r.Stats),
		ErrorMessage: r.ErrorMessage,
		StartedAt:    cloneTimePointer(r.StartedAt),
		CompletedAt:  cloneTimePointer(r.CompletedAt),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if len(r.PreviewData) > 0 {
		task.PreviewData = append([]core.SampleRecord(nil), r.PreviewData...)
	}
	return task
}

func cloneStats(in *core.ImportStats) *core.ImportStats {
	if in == nil {
		return nil
	}
	out := in.Clone()
	return &out
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil || input.IsZero() {
		return nil
	}
	value := input.UTC()
	return &value
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
