package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type ConnectionStore interface {
	Get(ctx context.Context, id string) (ConnectionConfig, error)
	Save(ctx context.Context, conn ConnectionConfig) (ConnectionConfig, error)
	List(ctx context.Context) ([]ConnectionConfig, error)
	// SaveSyncOutcome writes status and last error. Stats and LastSyncAt are
	// only written when set.
	SaveSyncOutcome(ctx context.Context, id string, outcome SyncOutcome) error
}

// ConnectionLease serializes live runs per connection.
type ConnectionLease interface {
	AcquireLease(ctx context.Context, connectionID string, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, connectionID string, holder string, outcome SyncOutcome) error
}

type IdentityStore interface {
	Create(ctx context.Context, identity Identity) (Identity, error)
	Get(ctx context.Context, id string) (Identity, error)
	Update(ctx context.Context, identity Identity) (Identity, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter IdentityFilter) ([]Identity, error)
}

type GroupStore interface {
	Create(ctx context.Context, group Group) (Group, error)
	Get(ctx context.Context, id string) (Group, error)
	Update(ctx context.Context, group Group) (Group, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter GroupFilter) ([]Group, error)
}

type ImportTaskStore interface {
	Create(ctx context.Context, task ImportTask) (ImportTask, error)
	Get(ctx context.Context, id string) (ImportTask, error)
	Update(ctx context.Context, task ImportTask) (ImportTask, error)
	ListByConnection(ctx context.Context, connectionID string, limit int) ([]ImportTask, error)
}

type StoreProvider interface {
	ConnectionStore() ConnectionStore
	IdentityStore() IdentityStore
	GroupStore() GroupStore
	ImportTaskStore() ImportTaskStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type ClientCredentialsRequest struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

type AccessToken struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	Scopes      []string
}

type AuthTokenProvider interface {
	Token(ctx context.Context, req ClientCredentialsRequest) (AccessToken, error)
}

// AuthTokenInvalidator is implemented by providers that cache issued tokens.
type AuthTokenInvalidator interface {
	Invalidate(tokenURL string, clientID string)
}

type FetchRequest struct {
	Connection  ConnectionConfig
	Credentials Credentials
	Resource    ResourceType
	// Limit bounds the number of records returned; zero uses the configured cap.
	Limit int
}

type FetchResult struct {
	Records   []SourceRecord
	Pages     int
	Truncated bool
}

type SourceFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}

type FetcherResolver interface {
	Resolve(sourceType SourceType) (SourceFetcher, error)
}

type CredentialResolver interface {
	Resolve(ctx context.Context, conn ConnectionConfig) (Credentials, error)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// ImportService is the operation surface consumed by commands, queries, the
// HTTP layer and the worker.
type ImportService interface {
	TriggerImport(ctx context.Context, req TriggerImportRequest) (TriggerImportResult, error)
	RunImportTask(ctx context.Context, taskID string) error
	PreviewImport(ctx context.Context, req PreviewRequest) (PreviewResult, error)
	GetImportTask(ctx context.Context, taskID string) (ImportTask, error)
	ListImportTasks(ctx context.Context, connectionID string, limit int) ([]ImportTask, error)
	GetConnectionStatus(ctx context.Context, connectionID string) (ConnectionStatus, error)
	SaveConnection(ctx context.Context, req SaveConnectionRequest) (ConnectionConfig, error)
	DueConnections(ctx context.Context, now time.Time) ([]ConnectionConfig, error)
}
