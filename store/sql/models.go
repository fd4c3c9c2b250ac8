package sqlstore

import (
	"time"

	"github.com/goliatone/go-identity-sync/core"
	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:import_connections,alias:ic"`

	ID                  string                  `bun:"id,pk"`
	Name                string                  `bun:"name,notnull"`
	SourceType          string                  `bun:"source_type,notnull"`
	CredentialRef       []byte                  `bun:"credential_ref"`
	BaseURL             string                  `bun:"base_url,notnull"`
	TokenURL            string                  `bun:"token_url,notnull"`
	Scopes              []string                `bun:"scopes,type:jsonb,notnull"`
	ImportURLs          core.ImportURLs         `bun:"import_urls,type:jsonb,notnull"`
	AttributeMappings   []core.AttributeMapping `bun:"attribute_mappings,type:jsonb,notnull"`
	SyncIntervalSeconds int64                   `bun:"sync_interval_seconds,notnull"`
	EnableUserImport    bool                    `bun:"enable_user_import,notnull"`
	EnableGroupImport   bool                    `bun:"enable_group_import,notnull"`
	SyncStatus          string                  `bun:"sync_status,notnull"`
	ImportStats         *core.ImportStats       `bun:"import_stats,type:jsonb"`
	LastSyncAt          *time.Time              `bun:"last_sync_at,nullzero"`
	LastError           string                  `bun:"last_error,notnull"`
	LeaseHolder         string                  `bun:"lease_holder,notnull"`
	LeaseExpiresAt      *time.Time              `bun:"lease_expires_at,nullzero"`
	CreatedAt           time.Time               `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time               `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type identityRecord struct {
	bun.BaseModel `bun:"table:identities,alias:idn"`

	ID                 string         `bun:"id,pk"`
	ExternalID         string         `bun:"external_id,notnull"`
	Username           string         `bun:"username,notnull"`
	Email              string         `bun:"email,notnull"`
	FirstName          string         `bun:"first_name,notnull"`
	LastName           string         `bun:"last_name,notnull"`
	DisplayName        string         `bun:"display_name,notnull"`
	Attributes         map[string]any `bun:"attributes,type:jsonb,notnull"`
	SourceConnectionID string         `bun:"source_connection_id,notnull"`
	CreatedAt          time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type groupRecord struct {
	bun.BaseModel `bun:"table:identity_groups,alias:ig"`

	ID                 string         `bun:"id,pk"`
	ExternalID         string         `bun:"external_id,notnull"`
	Name               string         `bun:"name,notnull"`
	Description        string         `bun:"description,notnull"`
	Attributes         map[string]any `bun:"attributes,type:jsonb,notnull"`
	SourceConnectionID string         `bun:"source_connection_id,notnull"`
	CreatedAt          time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type importTaskRecord struct {
	bun.BaseModel `bun:"table:import_tasks,alias:it"`

	ID           string                    `bun:"id,pk"`
	ConnectionID string                    `bun:"connection_id,notnull"`
	TaskType     string                    `bun:"task_type,notnull"`
	Status       string                    `bun:"status,notnull"`
	Config       core.ImportConfigSnapshot `bun:"config,type:jsonb,notnull"`
	TotalRecords int                       `bun:"total_records,notnull"`
	Progress     int                       `bun:"progress,notnull"`
	Stats        *core.ImportStats         `bun:"stats,type:jsonb"`
	ErrorMessage string                    `bun:"error_message,notnull"`
	PreviewData  []core.SampleRecord       `bun:"preview_data,type:jsonb,notnull"`
	StartedAt    *time.Time                `bun:"started_at,nullzero"`
	CompletedAt  *time.Time                `bun:"completed_at,nullzero"`
	CreatedAt    time.Time                 `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time                 `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
