package httpapi

import (
	"time"

	"github.com/goliatone/go-identity-sync/core"
)

type taskResponse struct {
	ID           string                `json:"id"`
	ConnectionID string                `json:"connectionId"`
	TaskType     core.ImportTaskType   `json:"taskType"`
	Status       core.ImportTaskStatus `json:"status"`
	DryRun       bool                  `json:"dryRun"`
	TotalRecords int                   `json:"totalRecords"`
	Progress     int                   `json:"progress"`
	Stats        *core.ImportStats     `json:"stats,omitempty"`
	ErrorMessage string                `json:"errorMessage,omitempty"`
	PreviewData  []core.SampleRecord   `json:"previewData,omitempty"`
	StartedAt    *time.Time            `json:"startedAt,omitempty"`
	CompletedAt  *time.Time            `json:"completedAt,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
}

func newTaskResponse(task core.ImportTask) taskResponse {
	return taskResponse{
		ID:           task.ID,
		ConnectionID: task.ConnectionID,
		TaskType:     task.TaskType,
		Status:       task.Status,
		DryRun:       task.Config.DryRun,
		TotalRecords: task.TotalRecords,
		Progress:     task.Progress,
		Stats:        task.Stats,
		ErrorMessage: task.ErrorMessage,
		PreviewData:  task.PreviewData,
		StartedAt:    task.StartedAt,
		CompletedAt:  task.CompletedAt,
		CreatedAt:    task.CreatedAt,
	}
}

type connectionResponse struct {
	ID                  string                  `json:"id"`
	Name                string                  `json:"name"`
	SourceType          core.SourceType         `json:"sourceType"`
	BaseURL             string                  `json:"baseUrl,omitempty"`
	TokenURL            string                  `json:"tokenUrl,omitempty"`
	Scopes              []string                `json:"scopes,omitempty"`
	ImportURLs          core.ImportURLs         `json:"importUrls"`
	AttributeMappings   []core.AttributeMapping `json:"attributeMappings"`
	SyncIntervalSeconds int64                   `json:"syncIntervalSeconds"`
	EnableUserImport    bool                    `json:"enableUserImport"`
	EnableGroupImport   bool                    `json:"enableGroupImport"`
	HasCredentials      bool                    `json:"hasCredentials"`
	SyncStatus          core.SyncStatus         `json:"syncStatus"`
	LastSyncAt          *time.Time              `json:"lastSyncAt,omitempty"`
	LastError           string                  `json:"lastError,omitempty"`
}

func newConnectionResponse(conn core.ConnectionConfig) connectionResponse {
	mappings := conn.AttributeMappings
	if mappings == nil {
		mappings = []core.AttributeMapping{}
	}
	return connectionResponse{
		ID:                  conn.ID,
		Name:                conn.Name,
		SourceType:          conn.SourceType,
		BaseURL:             conn.BaseURL,
		TokenURL:            conn.TokenURL,
		Scopes:              conn.Scopes,
		ImportURLs:          conn.ImportURLs,
		AttributeMappings:   mappings,
		SyncIntervalSeconds: int64(conn.SyncInterval / time.Second),
		EnableUserImport:    conn.EnableUserImport,
		EnableGroupImport:   conn.EnableGroupImport,
		HasCredentials:      len(conn.CredentialRef) > 0,
		SyncStatus:          conn.SyncStatus,
		LastSyncAt:          conn.LastSyncAt,
		LastError:           conn.LastError,
	}
}
