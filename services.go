package identitysync

import "github.com/goliatone/go-identity-sync/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type ConnectionConfig = core.ConnectionConfig
type Credentials = core.Credentials
type AttributeMapping = core.AttributeMapping
type ImportTask = core.ImportTask
type ImportStats = core.ImportStats
type ConnectionStatus = core.ConnectionStatus

type TriggerImportRequest = core.TriggerImportRequest
type TriggerImportResult = core.TriggerImportResult
type PreviewRequest = core.PreviewRequest
type PreviewResult = core.PreviewResult
type SaveConnectionRequest = core.SaveConnectionRequest

var (
	WithLogger             = core.WithLogger
	WithLoggerProvider     = core.WithLoggerProvider
	WithMetricsRecorder    = core.WithMetricsRecorder
	WithErrorFactory       = core.WithErrorFactory
	WithErrorMapper        = core.WithErrorMapper
	WithSecretProvider     = core.WithSecretProvider
	WithPersistenceClient  = core.WithPersistenceClient
	WithRepositoryFactory  = core.WithRepositoryFactory
	WithConfigProvider     = core.WithConfigProvider
	WithOptionsResolver    = core.WithOptionsResolver
	WithConnectionStore    = core.WithConnectionStore
	WithConnectionLease    = core.WithConnectionLease
	WithIdentityStore      = core.WithIdentityStore
	WithGroupStore         = core.WithGroupStore
	WithImportTaskStore    = core.WithImportTaskStore
	WithFetcherResolver    = core.WithFetcherResolver
	WithCredentialResolver = core.WithCredentialResolver
	WithJobEnqueuer        = core.WithJobEnqueuer
	WithClock              = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
