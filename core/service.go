package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

const (
	// ImportJobID identifies queued live import runs.
	ImportJobID = "identity.import.run"

	ImportJobParamTaskID       = "task_id"
	ImportJobParamConnectionID = "connection_id"

	defaultTaskListLimit = 50
)

type Service struct {
	config             Config
	logger             Logger
	loggerProvider     LoggerProvider
	metricsRecorder    MetricsRecorder
	errorFactory       ErrorFactory
	errorMapper        ErrorMapper
	secretProvider     SecretProvider
	persistenceClient  any
	repositoryFactory  any
	configProvider     ConfigProvider
	optionsResolver    OptionsResolver
	connectionStore    ConnectionStore
	connectionLease    ConnectionLease
	identityStore      IdentityStore
	groupStore         GroupStore
	taskStore          ImportTaskStore
	fetcherResolver    FetcherResolver
	credentialResolver CredentialResolver
	enqueuer           JobEnqueuer
	compiler           MappingCompiler
	executor           *ImportExecutor
	tasks              *ImportTaskLifecycle
	now                func() time.Time
}

type ServiceDependencies struct {
	Logger             Logger
	LoggerProvider     LoggerProvider
	MetricsRecorder    MetricsRecorder
	ErrorFactory       ErrorFactory
	ErrorMapper        ErrorMapper
	SecretProvider     SecretProvider
	PersistenceClient  any
	RepositoryFactory  any
	ConfigProvider     ConfigProvider
	OptionsResolver    OptionsResolver
	ConnectionStore    ConnectionStore
	ConnectionLease    ConnectionLease
	IdentityStore      IdentityStore
	GroupStore         GroupStore
	ImportTaskStore    ImportTaskStore
	FetcherResolver    FetcherResolver
	CredentialResolver CredentialResolver
	JobEnqueuer        JobEnqueuer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("identity-sync", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("identity-sync"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.repositoryFactory != nil {
		var stores StoreProvider
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			built, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			stores = built
		} else if direct, ok := builder.repositoryFactory.(StoreProvider); ok {
			stores = direct
		}
		if stores != nil {
			if builder.connectionStore == nil {
				builder.connectionStore = stores.ConnectionStore()
			}
			if builder.identityStore == nil {
				builder.identityStore = stores.IdentityStore()
			}
			if builder.groupStore == nil {
				builder.groupStore = stores.GroupStore()
			}
			if builder.taskStore == nil {
				builder.taskStore = stores.ImportTaskStore()
			}
		}
	}
	if builder.connectionLease == nil {
		if lease, ok := builder.connectionStore.(ConnectionLease); ok {
			builder.connectionLease = lease
		} else {
			builder.connectionLease = NewMemoryConnectionLease(builder.connectionStore)
		}
	}
	if builder.credentialResolver == nil {
		builder.credentialResolver = NewSealedCredentialResolver(builder.secretProvider)
	}
	if builder.validator == nil {
		builder.validator = NewValidator()
	}

	compiler := NewMappingCompiler(finalConfig.Import.StrictTransforms)
	executor := NewImportExecutor(ImportExecutorConfig{
		Fetchers:         builder.fetcherResolver,
		Identities:       builder.identityStore,
		Groups:           builder.groupStore,
		Validator:        builder.validator,
		Compiler:         compiler,
		SampleSize:       finalConfig.Import.DryRunSampleSize,
		ProgressInterval: finalConfig.Import.ProgressInterval,
		Logger:           logger,
		Now:              builder.now,
	})
	lifecycle := NewImportTaskLifecycle(builder.taskStore)
	lifecycle.Now = builder.now

	return &Service{
		config:             finalConfig,
		logger:             logger,
		loggerProvider:     provider,
		metricsRecorder:    builder.metricsRecorder,
		errorFactory:       builder.errorFactory,
		errorMapper:        builder.errorMapper,
		secretProvider:     builder.secretProvider,
		persistenceClient:  builder.persistenceClient,
		repositoryFactory:  builder.repositoryFactory,
		configProvider:     builder.configProvider,
		optionsResolver:    builder.optionsResolver,
		connectionStore:    builder.connectionStore,
		connectionLease:    builder.connectionLease,
		identityStore:      builder.identityStore,
		groupStore:         builder.groupStore,
		taskStore:          builder.taskStore,
		fetcherResolver:    builder.fetcherResolver,
		credentialResolver: builder.credentialResolver,
		enqueuer:           builder.enqueuer,
		compiler:           compiler,
		executor:           executor,
		tasks:              lifecycle,
		now:                builder.now,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Logger() Logger {
	if s == nil {
		return nil
	}
	return s.logger
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:             s.logger,
		LoggerProvider:     s.loggerProvider,
		MetricsRecorder:    s.metricsRecorder,
		ErrorFactory:       s.errorFactory,
		ErrorMapper:        s.errorMapper,
		SecretProvider:     s.secretProvider,
		PersistenceClient:  s.persistenceClient,
		RepositoryFactory:  s.repositoryFactory,
		ConfigProvider:     s.configProvider,
		OptionsResolver:    s.optionsResolver,
		ConnectionStore:    s.connectionStore,
		ConnectionLease:    s.connectionLease,
		IdentityStore:      s.identityStore,
		GroupStore:         s.groupStore,
		ImportTaskStore:    s.taskStore,
		FetcherResolver:    s.fetcherResolver,
		CredentialResolver: s.credentialResolver,
		JobEnqueuer:        s.enqueuer,
	}
}

// TriggerImport runs a dry run synchronously or queues a live run and returns
// the task id straight away.
func (s *Service) TriggerImport(ctx context.Context, req TriggerImportRequest) (result TriggerImportResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"connection_id": req.ConnectionID,
		"dry_run":       req.DryRun,
	}
	defer func() {
		if result.TaskID != "" {
			fields["task_id"] = result.TaskID
		}
		s.observeOperation(ctx, startedAt, "trigger_import", err, fields)
	}()

	if err = s.requireStores(); err != nil {
		err = s.mapError(err)
		return TriggerImportResult{}, err
	}
	connectionID := strings.TrimSpace(req.ConnectionID)
	if connectionID == "" {
		err = s.mapError(validationError("connection_id", "connection id is required"))
		return TriggerImportResult{}, err
	}
	conn, err := s.connectionStore.Get(ctx, connectionID)
	if err != nil {
		err = s.mapError(err)
		return TriggerImportResult{}, err
	}

	taskType := req.TaskType
	if strings.TrimSpace(string(taskType)) == "" {
		taskType = ImportTaskTypeAll
	}
	if err = taskType.Validate(); err != nil {
		err = s.mapError(validationError("task_type", err.Error()))
		return TriggerImportResult{}, err
	}
	fields["task_type"] = string(taskType)
	if len(taskType.Resources(conn)) == 0 {
		err = s.mapError(validationError("task_type", fmt.Sprintf("connection has no import enabled for %q", taskType)))
		return TriggerImportResult{}, err
	}

	mappings := ResolveMappings(req.FieldMapping, conn.AttributeMappings)
	if _, err = s.compiler.Compile(mappings); err != nil {
		err = s.mapError(err)
		return TriggerImportResult{}, err
	}
	snapshot := ImportConfigSnapshot{
		DryRun:       req.DryRun,
		FieldMapping: req.FieldMapping,
		Mappings:     mappings,
	}

	if req.DryRun {
		return s.runDryImport(ctx, conn, taskType, snapshot)
	}
	return s.queueLiveImport(ctx, conn, taskType, snapshot)
}

func (s *Service) runDryImport(
	ctx context.Context,
	conn ConnectionConfig,
	taskType ImportTaskType,
	snapshot ImportConfigSnapshot,
) (TriggerImportResult, error) {
	task, err := s.tasks.Create(ctx, "", conn.ID, taskType, snapshot)
	if err != nil {
		return TriggerImportResult{}, s.mapError(err)
	}
	if task, err = s.tasks.Start(ctx, task); err != nil {
		return TriggerImportResult{TaskID: task.ID}, s.mapError(err)
	}

	result := s.execute(ctx, conn, task, snapshot.Mappings, true, nil)
	if _, err = s.tasks.Finish(ctx, task, result); err != nil {
		return TriggerImportResult{TaskID: task.ID}, s.mapError(err)
	}
	return TriggerImportResult{
		Success: result.Status != ImportTaskStatusFailed,
		TaskID:  task.ID,
		DryRun:  true,
		Results: result.DryRunResults(),
	}, nil
}

func (s *Service) queueLiveImport(
	ctx context.Context,
	conn ConnectionConfig,
	taskType ImportTaskType,
	snapshot ImportConfigSnapshot,
) (TriggerImportResult, error) {
	if s.enqueuer == nil {
		return TriggerImportResult{}, s.mapError(ErrImportQueueNotConfigured)
	}
	taskID := uuid.NewString()
	if err := s.connectionLease.AcquireLease(ctx, conn.ID, taskID, s.config.Import.LeaseTTL()); err != nil {
		return TriggerImportResult{}, s.mapError(err)
	}

	task, err := s.tasks.Create(ctx, taskID, conn.ID, taskType, snapshot)
	if err != nil {
		s.releaseLease(ctx, conn.ID, taskID, SyncOutcome{Status: SyncStatusFailed, LastError: err.Error()})
		return TriggerImportResult{}, s.mapError(err)
	}

	enqueueErr := s.enqueuer.Enqueue(ctx, &JobExecutionMessage{
		JobID: ImportJobID,
		Parameters: map[string]any{
			ImportJobParamTaskID:       task.ID,
			ImportJobParamConnectionID: conn.ID,
		},
		IdempotencyKey: task.ID,
	})
	if enqueueErr != nil {
		message := "dispatch failed: " + enqueueErr.Error()
		if _, failErr := s.tasks.Fail(ctx, task, message); failErr != nil {
			s.logError(ctx, "import task fail transition failed", map[string]any{
				"task_id": task.ID,
				"error":   failErr.Error(),
			})
		}
		s.releaseLease(ctx, conn.ID, taskID, SyncOutcome{
			Status:     SyncStatusFailed,
			LastSyncAt: s.now(),
			LastError:  message,
		})
		return TriggerImportResult{TaskID: task.ID}, s.mapError(enqueueErr)
	}
	return TriggerImportResult{Success: true, TaskID: task.ID}, nil
}

// RunImportTask executes a queued live task. Errors are only returned for
// infrastructure failures worth retrying; the import outcome lives on the task.
func (s *Service) RunImportTask(ctx context.Context, taskID string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"task_id": taskID}
	defer func() {
		s.observeOperation(ctx, startedAt, "run_import_task", err, fields)
	}()

	if err = s.requireStores(); err != nil {
		err = s.mapError(err)
		return err
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		err = s.mapError(validationError("task_id", "task id is required"))
		return err
	}
	task, err := s.taskStore.Get(ctx, taskID)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	fields["connection_id"] = task.ConnectionID
	if task.Status.Terminal() {
		return nil
	}

	conn, err := s.connectionStore.Get(ctx, task.ConnectionID)
	if err != nil {
		if errors.Is(err, ErrConnectionNotFound) {
			_, failErr := s.tasks.Fail(ctx, task, err.Error())
			err = s.mapError(failErr)
			return err
		}
		err = s.mapError(err)
		return err
	}

	if task.Status == ImportTaskStatusPending {
		if task, err = s.tasks.Start(ctx, task); err != nil {
			err = s.mapError(err)
			return err
		}
	}

	current := task
	progress := func(ctx context.Context, processed int, total int) {
		updated, progressErr := s.tasks.Progress(ctx, current, processed, total)
		if progressErr != nil {
			s.logError(ctx, "import task progress update failed", map[string]any{
				"task_id": current.ID,
				"error":   progressErr.Error(),
			})
			return
		}
		current = updated
	}

	result := s.execute(ctx, conn, task, task.Config.Mappings, false, progress)
	fields["status"] = string(result.Status)
	if _, err = s.tasks.Finish(ctx, current, result); err != nil {
		err = s.mapError(err)
		return err
	}
	stats := result.Stats.Clone()
	s.releaseLease(ctx, conn.ID, task.ID, SyncOutcome{
		Status:     SyncStatusFromTask(result.Status),
		Stats:      &stats,
		LastSyncAt: stats.CompletedAt,
		LastError:  result.FailureMessage(),
	})
	return nil
}

// FailImportTask closes a task the queue gave up on. The task moves to failed,
// the connection records the failure and the connection lease is released.
// Terminal tasks are left untouched.
func (s *Service) FailImportTask(ctx context.Context, taskID string, reason string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"task_id": taskID}
	defer func() {
		s.observeOperation(ctx, startedAt, "fail_import_task", err, fields)
	}()

	if err = s.requireStores(); err != nil {
		err = s.mapError(err)
		return err
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		err = s.mapError(validationError("task_id", "task id is required"))
		return err
	}
	task, err := s.taskStore.Get(ctx, taskID)
	if err != nil {
		err = s.mapError(err)
		return err
	}
	fields["connection_id"] = task.ConnectionID
	if task.Status.Terminal() {
		return nil
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "import task abandoned after delivery failures"
	}
	if _, err = s.tasks.Fail(ctx, task, reason); err != nil {
		err = s.mapError(err)
		return err
	}
	s.releaseLease(ctx, task.ConnectionID, task.ID, SyncOutcome{
		Status:     SyncStatusFailed,
		LastSyncAt: s.now(),
		LastError:  reason,
	})
	return nil
}

// execute reads the credentials once and runs the executor.
func (s *Service) execute(
	ctx context.Context,
	conn ConnectionConfig,
	task ImportTask,
	mappings []AttributeMapping,
	dryRun bool,
	progress ProgressFunc,
) ImportResult {
	creds, err := s.credentialResolver.Resolve(ctx, conn)
	if err != nil {
		authErr := NewImportError(ImportErrorKindAuth, "", err)
		now := s.now()
		return ImportResult{
			Stats: ImportStats{
				Errors:      []string{authErr.Error()},
				StartedAt:   now,
				CompletedAt: now,
			},
			Status:           ImportTaskStatusFailed,
			Samples:          []SampleRecord{},
			ValidationIssues: []string{},
			Err:              authErr,
		}
	}
	result := s.executor.Run(ctx, RunRequest{
		Connection:  conn,
		Credentials: creds,
		Mappings:    mappings,
		DryRun:      dryRun,
		TaskType:    task.TaskType,
		Progress:    progress,
	})
	s.recordImportMetrics(ctx, conn, task, result)
	return result
}

func (s *Service) PreviewImport(ctx context.Context, req PreviewRequest) (preview PreviewResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"connection_id": req.ConnectionID}
	defer func() {
		s.observeOperation(ctx, startedAt, "preview_import", err, fields)
	}()

	if s == nil || s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is required"))
		return PreviewResult{}, err
	}
	if s.fetcherResolver == nil {
		err = s.mapError(NewImportError(ImportErrorKindFetch, "", fmt.Errorf("core: fetcher resolver is not configured")))
		return PreviewResult{}, err
	}
	conn, err := s.connectionStore.Get(ctx, strings.TrimSpace(req.ConnectionID))
	if err != nil {
		err = s.mapError(err)
		return PreviewResult{}, err
	}
	resource := ResourceUsers
	if req.TaskType == ImportTaskTypeGroups {
		resource = ResourceGroups
	}
	limit := s.config.Preview.CustomURLSampleSize
	if conn.SourceType == SourceTypeCloudIdP {
		limit = s.config.Preview.CloudIdPSampleSize
	}

	creds, err := s.credentialResolver.Resolve(ctx, conn)
	if err != nil {
		err = s.mapError(NewImportError(ImportErrorKindAuth, resource, err))
		return PreviewResult{}, err
	}
	fetcher, err := s.fetcherResolver.Resolve(conn.SourceType)
	if err != nil {
		err = s.mapError(asFetchError(resource, err))
		return PreviewResult{}, err
	}
	fetched, err := fetcher.Fetch(ctx, FetchRequest{
		Connection:  conn,
		Credentials: creds,
		Resource:    resource,
		Limit:       limit,
	})
	if err != nil {
		err = s.mapError(asFetchError(resource, err))
		return PreviewResult{}, err
	}
	records := fetched.Records
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	preview = buildPreview(records)
	fields["sampled_records"] = preview.SampledRecords
	return preview, nil
}

func (s *Service) GetImportTask(ctx context.Context, taskID string) (ImportTask, error) {
	if s == nil || s.taskStore == nil {
		return ImportTask{}, s.mapError(fmt.Errorf("core: import task store is required"))
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return ImportTask{}, s.mapError(validationError("task_id", "task id is required"))
	}
	task, err := s.taskStore.Get(ctx, taskID)
	if err != nil {
		return ImportTask{}, s.mapError(err)
	}
	return task, nil
}

func (s *Service) ListImportTasks(ctx context.Context, connectionID string, limit int) ([]ImportTask, error) {
	if s == nil || s.taskStore == nil {
		return nil, s.mapError(fmt.Errorf("core: import task store is required"))
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, s.mapError(validationError("connection_id", "connection id is required"))
	}
	if limit <= 0 {
		limit = defaultTaskListLimit
	}
	tasks, err := s.taskStore.ListByConnection(ctx, connectionID, limit)
	if err != nil {
		return nil, s.mapError(err)
	}
	return tasks, nil
}

func (s *Service) GetConnectionStatus(ctx context.Context, connectionID string) (ConnectionStatus, error) {
	if s == nil || s.connectionStore == nil {
		return ConnectionStatus{}, s.mapError(fmt.Errorf("core: connection store is required"))
	}
	conn, err := s.connectionStore.Get(ctx, strings.TrimSpace(connectionID))
	if err != nil {
		return ConnectionStatus{}, s.mapError(err)
	}
	status := conn.SyncStatus
	if status == "" {
		status = SyncStatusIdle
	}
	var stats *ImportStats
	if conn.ImportStats != nil {
		cloned := conn.ImportStats.Clone()
		stats = &cloned
	}
	return ConnectionStatus{
		ConnectionID: conn.ID,
		SyncStatus:   status,
		ImportStats:  stats,
		LastSyncAt:   conn.LastSyncAt,
		LastError:    conn.LastError,
	}, nil
}

// SaveConnection upserts a connection, sealing new credentials. Sync status
// and lease fields are kept from the stored record.
func (s *Service) SaveConnection(ctx context.Context, req SaveConnectionRequest) (saved ConnectionConfig, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"connection_id": req.Config.ID}
	defer func() {
		s.observeOperation(ctx, startedAt, "save_connection", err, fields)
	}()

	if s == nil || s.connectionStore == nil {
		err = s.mapError(fmt.Errorf("core: connection store is required"))
		return ConnectionConfig{}, err
	}
	conn := req.Config
	conn.ID = strings.TrimSpace(conn.ID)
	if err = conn.Validate(); err != nil {
		err = s.mapError(validationError("connection", err.Error()))
		return ConnectionConfig{}, err
	}
	if _, err = s.compiler.Compile(conn.AttributeMappings); err != nil {
		err = s.mapError(err)
		return ConnectionConfig{}, err
	}

	existing, getErr := s.connectionStore.Get(ctx, conn.ID)
	switch {
	case getErr == nil:
		conn.SyncStatus = existing.SyncStatus
		conn.ImportStats = existing.ImportStats
		conn.LastSyncAt = existing.LastSyncAt
		conn.LastError = existing.LastError
		conn.LeaseHolder = existing.LeaseHolder
		conn.LeaseExpiresAt = existing.LeaseExpiresAt
		conn.CreatedAt = existing.CreatedAt
		if len(conn.CredentialRef) == 0 {
			conn.CredentialRef = existing.CredentialRef
		}
	case errors.Is(getErr, ErrConnectionNotFound):
		conn.SyncStatus = SyncStatusIdle
	default:
		err = s.mapError(getErr)
		return ConnectionConfig{}, err
	}

	if req.Credentials != nil && !req.Credentials.Empty() {
		sealed, sealErr := SealCredentials(ctx, s.secretProvider, *req.Credentials)
		if sealErr != nil {
			err = s.mapError(sealErr)
			return ConnectionConfig{}, err
		}
		conn.CredentialRef = sealed
	}

	saved, err = s.connectionStore.Save(ctx, conn)
	if err != nil {
		err = s.mapError(err)
		return ConnectionConfig{}, err
	}
	return saved, nil
}

// DueConnections lists connections whose sync interval has elapsed.
func (s *Service) DueConnections(ctx context.Context, now time.Time) ([]ConnectionConfig, error) {
	if s == nil || s.connectionStore == nil {
		return nil, s.mapError(fmt.Errorf("core: connection store is required"))
	}
	all, err := s.connectionStore.List(ctx)
	if err != nil {
		return nil, s.mapError(err)
	}
	due := make([]ConnectionConfig, 0, len(all))
	for _, conn := range all {
		if conn.Due(now) {
			due = append(due, conn)
		}
	}
	return due, nil
}

func (s *Service) requireStores() error {
	if s == nil {
		return fmt.Errorf("core: service is not configured")
	}
	if s.connectionStore == nil {
		return fmt.Errorf("core: connection store is required")
	}
	if s.taskStore == nil {
		return fmt.Errorf("core: import task store is required")
	}
	if s.identityStore == nil || s.groupStore == nil {
		return fmt.Errorf("core: identity and group stores are required")
	}
	return nil
}

func (s *Service) releaseLease(ctx context.Context, connectionID string, holder string, outcome SyncOutcome) {
	if s.connectionLease == nil {
		return
	}
	if err := s.connectionLease.ReleaseLease(ctx, connectionID, holder, outcome); err != nil {
		s.logError(ctx, "connection lease release failed", map[string]any{
			"connection_id": connectionID,
			"task_id":       holder,
			"error":         err.Error(),
		})
	}
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
