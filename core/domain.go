package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrConnectionNotFound            = errors.New("core: connection not found")
	ErrImportTaskNotFound            = errors.New("core: import task not found")
	ErrIdentityNotFound              = errors.New("core: identity not found")
	ErrGroupNotFound                 = errors.New("core: group not found")
	ErrConnectionLeaseHeld           = errors.New("core: connection lease already held")
	ErrInvalidImportTaskTransition   = errors.New("core: invalid import task status transition")
	ErrInvalidSourceType             = errors.New("core: invalid source type")
	ErrInvalidImportTaskType         = errors.New("core: invalid import task type")
	ErrImportQueueNotConfigured      = errors.New("core: import queue is not configured")
	ErrCredentialResolverUnavailable = errors.New("core: credential resolver is not configured")
)

type SourceType string

const (
	SourceTypeCloudIdP        SourceType = "cloud_idp"
	SourceTypeCustomURL       SourceType = "custom_url"
	SourceTypeLDAP            SourceType = "ldap"
	SourceTypeActiveDirectory SourceType = "active_directory"
	SourceTypeDatabase        SourceType = "database"
)

func (t SourceType) Validate() error {
	switch t {
	case SourceTypeCloudIdP, SourceTypeCustomURL, SourceTypeLDAP, SourceTypeActiveDirectory, SourceTypeDatabase:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSourceType, string(t))
	}
}

// ResourceType identifies one import pass.
type ResourceType string

const (
	ResourceUsers  ResourceType = "users"
	ResourceGroups ResourceType = "groups"
)

type ImportTaskType string

const (
	ImportTaskTypeUsers  ImportTaskType = "users"
	ImportTaskTypeGroups ImportTaskType = "groups"
	ImportTaskTypeAll    ImportTaskType = "all"
)

func (t ImportTaskType) Validate() error {
	switch t {
	case ImportTaskTypeUsers, ImportTaskTypeGroups, ImportTaskTypeAll:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidImportTaskType, string(t))
	}
}

// Resources expands the task type into ordered passes, filtered by the
// connection import flags.
func (t ImportTaskType) Resources(conn ConnectionConfig) []ResourceType {
	out := make([]ResourceType, 0, 2)
	if (t == ImportTaskTypeUsers || t == ImportTaskTypeAll) && conn.EnableUserImport {
		out = append(out, ResourceUsers)
	}
	if (t == ImportTaskTypeGroups || t == ImportTaskTypeAll) && conn.EnableGroupImport {
		out = append(out, ResourceGroups)
	}
	return out
}

type ImportTaskStatus string

const (
	ImportTaskStatusPending             ImportTaskStatus = "pending"
	ImportTaskStatusRunning             ImportTaskStatus = "running"
	ImportTaskStatusCompleted           ImportTaskStatus = "completed"
	ImportTaskStatusCompletedWithErrors ImportTaskStatus = "completed_with_errors"
	ImportTaskStatusFailed              ImportTaskStatus = "failed"
)

func (s ImportTaskStatus) Terminal() bool {
	switch s {
	case ImportTaskStatusCompleted, ImportTaskStatusCompletedWithErrors, ImportTaskStatusFailed:
		return true
	default:
		return false
	}
}

// SyncStatus is the connection level view of the most recent live run.
type SyncStatus string

const (
	SyncStatusIdle                SyncStatus = "idle"
	SyncStatusRunning             SyncStatus = "running"
	SyncStatusCompleted           SyncStatus = "completed"
	SyncStatusCompletedWithErrors SyncStatus = "completed_with_errors"
	SyncStatusFailed              SyncStatus = "failed"
)

func SyncStatusFromTask(status ImportTaskStatus) SyncStatus {
	switch status {
	case ImportTaskStatusCompleted:
		return SyncStatusCompleted
	case ImportTaskStatusCompletedWithErrors:
		return SyncStatusCompletedWithErrors
	case ImportTaskStatusFailed:
		return SyncStatusFailed
	case ImportTaskStatusRunning, ImportTaskStatusPending:
		return SyncStatusRunning
	default:
		return SyncStatusIdle
	}
}

type AttributeMapping struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Transform   string `json:"transform,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

type ImportURLs struct {
	Users  string `json:"users,omitempty"`
	Groups string `json:"groups,omitempty"`
}

type ConnectionConfig struct {
	ID                string
	Name              string
	SourceType        SourceType
	CredentialRef     []byte
	BaseURL           string
	TokenURL          string
	Scopes            []string
	ImportURLs        ImportURLs
	AttributeMappings []AttributeMapping
	SyncInterval      time.Duration
	EnableUserImport  bool
	EnableGroupImport bool
	SyncStatus        SyncStatus
	ImportStats       *ImportStats
	LastSyncAt        *time.Time
	LastError         string
	LeaseHolder       string
	LeaseExpiresAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (c ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("core: connection id is required")
	}
	if err := c.SourceType.Validate(); err != nil {
		return err
	}
	switch c.SourceType {
	case SourceTypeCloudIdP:
		if strings.TrimSpace(c.BaseURL) == "" {
			return fmt.Errorf("core: base url is required for cloud idp connections")
		}
	case SourceTypeCustomURL:
		if c.EnableUserImport && strings.TrimSpace(c.ImportURLs.Users) == "" {
			return fmt.Errorf("core: users import url is required when user import is enabled")
		}
		if c.EnableGroupImport && strings.TrimSpace(c.ImportURLs.Groups) == "" {
			return fmt.Errorf("core: groups import url is required when group import is enabled")
		}
	}
	return nil
}

// Due reports whether an interval sync should start at now. A running
// connection whose lease has expired is due again.
func (c ConnectionConfig) Due(now time.Time) bool {
	if c.SyncInterval <= 0 {
		return false
	}
	if c.SyncStatus == SyncStatusRunning && (c.LeaseExpiresAt == nil || now.Before(*c.LeaseExpiresAt)) {
		return false
	}
	if c.LastSyncAt == nil {
		return true
	}
	return !now.Before(c.LastSyncAt.Add(c.SyncInterval))
}

// Credentials are resolved once per run and never persisted in plaintext.
type Credentials struct {
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	APIKey       string `json:"api_key,omitempty"`
}

func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.ClientID) == "" &&
		strings.TrimSpace(c.ClientSecret) == "" &&
		strings.TrimSpace(c.APIKey) == ""
}

type SourceRecord map[string]any

func (r SourceRecord) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for key := range r {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type MappedRecord map[string]any

// String returns the trimmed string form of a top level or dotted path value.
func (r MappedRecord) String(path string) string {
	value, ok := lookupPathValue(r, path)
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(scalarString(value))
}

// scalarString formats source values without exponent notation so numeric
// ids and usernames keep their digits.
func scalarString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(value)
	}
}

type ImportStats struct {
	UsersProcessed  int           `json:"usersProcessed"`
	UsersCreated    int           `json:"usersCreated"`
	UsersUpdated    int           `json:"usersUpdated"`
	UsersSkipped    int           `json:"usersSkipped"`
	GroupsProcessed int           `json:"groupsProcessed"`
	GroupsCreated   int           `json:"groupsCreated"`
	GroupsUpdated   int           `json:"groupsUpdated"`
	GroupsSkipped   int           `json:"groupsSkipped"`
	Errors          []string      `json:"errors"`
	StartedAt       time.Time     `json:"startedAt"`
	CompletedAt     time.Time     `json:"completedAt"`
	Duration        time.Duration `json:"duration"`
}

func (s ImportStats) Clone() ImportStats {
	out := s
	out.Errors = append([]string(nil), s.Errors...)
	return out
}

func (s ImportStats) Created() int { return s.UsersCreated + s.GroupsCreated }

func (s ImportStats) Updated() int { return s.UsersUpdated + s.GroupsUpdated }

func (s ImportStats) Skipped() int { return s.UsersSkipped + s.GroupsSkipped }

type RecordAction string

const (
	RecordActionCreate RecordAction = "create"
	RecordActionUpdate RecordAction = "update"
	RecordActionSkip   RecordAction = "skip"
)

type IdentityRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type MatchResult struct {
	Found    bool
	Identity IdentityRef
}

type GroupMatchResult struct {
	Found bool
	Group Group
}

type SampleRecord struct {
	Original     SourceRecord `json:"original"`
	Mapped       MappedRecord `json:"mapped"`
	Action       RecordAction `json:"action"`
	ExistingUser *IdentityRef `json:"existingUser,omitempty"`
}

type Identity struct {
	ID                 string
	ExternalID         string
	Username           string
	Email              string
	FirstName          string
	LastName           string
	DisplayName        string
	Attributes         map[string]any
	SourceConnectionID string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (i Identity) Ref() IdentityRef {
	return IdentityRef{ID: i.ID, Username: i.Username, Email: i.Email}
}

type Group struct {
	ID                 string
	ExternalID         string
	Name               string
	Description        string
	Attributes         map[string]any
	SourceConnectionID string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type IdentityFilter struct {
	Email              string
	Username           string
	SourceConnectionID string
	Limit              int
	Offset             int
}

type GroupFilter struct {
	ExternalID         string
	Name               string
	SourceConnectionID string
	Limit              int
	Offset             int
}

type ImportConfigSnapshot struct {
	DryRun       bool               `json:"dryRun"`
	FieldMapping map[string]string  `json:"fieldMapping,omitempty"`
	Mappings     []AttributeMapping `json:"mappings,omitempty"`
}

type ImportTask struct {
	ID           string
	ConnectionID string
	TaskType     ImportTaskType
	Status       ImportTaskStatus
	Config       ImportConfigSnapshot
	TotalRecords int
	Progress     int
	Stats        *ImportStats
	ErrorMessage string
	PreviewData  []SampleRecord
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type DryRunResults struct {
	TotalRecords         int            `json:"totalRecords"`
	WouldCreate          int            `json:"wouldCreate"`
	WouldUpdate          int            `json:"wouldUpdate"`
	WouldSkip            int            `json:"wouldSkip"`
	Errors               []string       `json:"errors"`
	ValidationIssues     []string       `json:"validationIssues"`
	SampleProcessedUsers []SampleRecord `json:"sampleProcessedUsers"`
}

type TriggerImportRequest struct {
	ConnectionID string
	DryRun       bool
	FieldMapping map[string]string
	TaskType     ImportTaskType
}

type TriggerImportResult struct {
	Success bool           `json:"success"`
	TaskID  string         `json:"taskId"`
	DryRun  bool           `json:"dryRun,omitempty"`
	Results *DryRunResults `json:"results,omitempty"`
}

type PreviewRequest struct {
	ConnectionID string
	TaskType     ImportTaskType
}

type PreviewResult struct {
	SampledRecords    int               `json:"sampledRecords"`
	DetectedFields    []string          `json:"detectedFields"`
	SuggestedMappings map[string]string `json:"suggestedMappings"`
	Samples           []SourceRecord    `json:"samples"`
}

type ConnectionStatus struct {
	ConnectionID string       `json:"connection_id"`
	SyncStatus   SyncStatus   `json:"sync_status"`
	ImportStats  *ImportStats `json:"import_stats,omitempty"`
	LastSyncAt   *time.Time   `json:"last_sync_at,omitempty"`
	LastError    string       `json:"last_error,omitempty"`
}

type SaveConnectionRequest struct {
	Config      ConnectionConfig
	Credentials *Credentials
}

// SyncOutcome is persisted on the connection when a live run finishes.
type SyncOutcome struct {
	Status     SyncStatus
	Stats      *ImportStats
	LastSyncAt time.Time
	LastError  string
}
