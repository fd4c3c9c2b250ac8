package httpapi

import (
	"strings"
	"time"

	"github.com/goliatone/go-identity-sync/core"
)

type triggerImportRequest struct {
	DryRun       bool              `json:"dryRun"`
	FieldMapping map[string]string `json:"fieldMapping" validate:"omitempty,dive,keys,required,endkeys,omitempty"`
	TaskType     string            `json:"taskType" validate:"omitempty,oneof=users groups all"`
}

func (r triggerImportRequest) toCore(connectionID string) core.TriggerImportRequest {
	return core.TriggerImportRequest{
		ConnectionID: connectionID,
		DryRun:       r.DryRun,
		FieldMapping: trimMapping(r.FieldMapping),
		TaskType:     core.ImportTaskType(strings.TrimSpace(r.TaskType)),
	}
}

type previewRequest struct {
	TaskType string `json:"taskType" validate:"omitempty,oneof=users groups all"`
}

type attributeMappingRequest struct {
	Source      string `json:"source" validate:"required"`
	Destination string `json:"destination" validate:"required"`
	Transform   string `json:"transform"`
	Required    bool   `json:"required"`
}

type credentialsRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	APIKey       string `json:"apiKey"`
}

type saveConnectionRequest struct {
	Name                string                    `json:"name"`
	SourceType          string                    `json:"sourceType" validate:"required,oneof=cloud_idp custom_url ldap active_directory database"`
	BaseURL             string                    `json:"baseUrl" validate:"omitempty,url"`
	TokenURL            string                    `json:"tokenUrl" validate:"omitempty,url"`
	Scopes              []string                  `json:"scopes"`
	UsersURL            string                    `json:"usersUrl" validate:"omitempty,url"`
	GroupsURL           string                    `json:"groupsUrl" validate:"omitempty,url"`
	AttributeMappings   []attributeMappingRequest `json:"attributeMappings" validate:"dive"`
	SyncIntervalSeconds int                       `json:"syncIntervalSeconds" validate:"min=0"`
	EnableUserImport    bool                      `json:"enableUserImport"`
	EnableGroupImport   bool                      `json:"enableGroupImport"`
	Credentials         *credentialsRequest       `json:"credentials"`
}

func (r saveConnectionRequest) toCore(connectionID string) core.SaveConnectionRequest {
	mappings := make([]core.AttributeMapping, 0, len(r.AttributeMappings))
	for _, mapping := range r.AttributeMappings {
		mappings = append(mappings, core.AttributeMapping{
			Source:      strings.TrimSpace(mapping.Source),
			Destination: strings.TrimSpace(mapping.Destination),
			Transform:   strings.TrimSpace(mapping.Transform),
			Required:    mapping.Required,
		})
	}
	req := core.SaveConnectionRequest{
		Config: core.ConnectionConfig{
			ID:                connectionID,
			Name:              strings.TrimSpace(r.Name),
			SourceType:        core.SourceType(strings.TrimSpace(r.SourceType)),
			BaseURL:           strings.TrimSpace(r.BaseURL),
			TokenURL:          strings.TrimSpace(r.TokenURL),
			Scopes:            r.Scopes,
			ImportURLs:        core.ImportURLs{Users: strings.TrimSpace(r.UsersURL), Groups: strings.TrimSpace(r.GroupsURL)},
			AttributeMappings: mappings,
			SyncInterval:      time.Duration(r.SyncIntervalSeconds) * time.Second,
			EnableUserImport:  r.EnableUserImport,
			EnableGroupImport: r.EnableGroupImport,
		},
	}
	if r.Credentials != nil {
		req.Credentials = &core.Credentials{
			ClientID:     strings.TrimSpace(r.Credentials.ClientID),
			ClientSecret: strings.TrimSpace(r.Credentials.ClientSecret),
			APIKey:       strings.TrimSpace(r.Credentials.APIKey),
		}
	}
	return req
}

func trimMapping(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for source, destination := range in {
		out[strings.TrimSpace(source)] = strings.TrimSpace(destination)
	}
	return out
}
