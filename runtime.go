package identitysync

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"github.com/goliatone/go-identity-sync/adapters/gojob"
	"github.com/goliatone/go-identity-sync/adapters/gologger"
	"github.com/goliatone/go-identity-sync/auth"
	"github.com/goliatone/go-identity-sync/core"
	"github.com/goliatone/go-identity-sync/security"
	"github.com/goliatone/go-identity-sync/source"
	sqlstore "github.com/goliatone/go-identity-sync/store/sql"
	syncrun "github.com/goliatone/go-identity-sync/sync"
	"github.com/goliatone/go-identity-sync/transport"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

// DefaultConnectionCacheTTL bounds how long a connection config is served
// from the read-through cache.
const DefaultConnectionCacheTTL = 30 * time.Second

// Runtime is a fully wired import pipeline: service, command facade, queue,
// worker and scheduler.
type Runtime struct {
	Service   *core.Service
	Facade    *Facade
	Queue     *syncrun.MemoryQueue
	Worker    *syncrun.Worker
	Scheduler *syncrun.Scheduler
	Sources   *source.Registry
	Tokens    *auth.ClientCredentialsTokenProvider

	config core.Config
	logger core.Logger
}

type RuntimeOption func(*runtimeBuilder)

type runtimeBuilder struct {
	persistenceClient any
	appKey            string
	secretProvider    core.SecretProvider
	httpClient        *http.Client
	metricsRecorder   core.MetricsRecorder
	loggerProvider    core.LoggerProvider
	logger            core.Logger
	hooks             *ExtensionHooks
	cacheTTL          time.Duration
	disableCache      bool
	serviceOptions    []core.Option
}

// WithPersistence sets the database handle. It accepts a go-persistence-bun
// client or a *bun.DB.
func WithPersistence(client any) RuntimeOption {
	return func(b *runtimeBuilder) {
		b.persistenceClient = client
	}
}

// WithAppKey seals connection credentials with an AES-GCM key derived from key.
func WithAppKey(key string) RuntimeOption {
	return func(b *runtimeBuilder) {
		b.appKey = key
	}
}

func WithRuntimeSecretProvider(provider core.SecretProvider) RuntimeOption {
	return func(b *runtimeBuilder) {
		b.secretProvider = provider
	}
}

// WithHTTPClient is used for both token exchanges and page requests.
func WithHTTPClient(client *http.Client) RuntimeOption {
	return func(b *runtimeBuilder) {
		b.httpClient = client
	}
}

func WithRuntimeMetrics(recorder core.MetricsRecorder) RuntimeOption {
	return func(b *runtimeBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithRuntimeLogger(provider core.LoggerProvider, logger core.Logger) RuntimeOption {
	return func(b *runtimeBuilder) {
		b.loggerProvider = provider
		b.logger = logger
	}
}

func WithExtensionHooks(hooks *ExtensionHooks) RuntimeOption {
	return func(b *runtimeBuilder) {
		b.hooks = hooks
	}
}

// WithConnectionCacheTTL sets the connection cache TTL; zero or less disables
// the cache.
func WithConnectionCacheTTL(ttl time.Duration) RuntimeOption {
	return func(b *runtimeBuilder) {
		b.cacheTTL = ttl
		b.disableCache = ttl <= 0
	}
}

// WithServiceOptions forwards extra options to core.NewService. They are
// applied after the runtime defaults.
func WithServiceOptions(opts ...core.Option) RuntimeOption {
	return func(b *runtimeBuilder) {
		b.serviceOptions = append(b.serviceOptions, opts...)
	}
}

// Setup wires the bun stores, source fetchers, credential sealing and the
// in-process queue into a Runtime.
func Setup(cfg Config, opts ...RuntimeOption) (*Runtime, error) {
	builder := runtimeBuilder{cacheTTL: DefaultConnectionCacheTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}
	if builder.persistenceClient == nil {
		return nil, fmt.Errorf("identitysync: persistence client is required")
	}

	secrets := builder.secretProvider
	if secrets == nil {
		if strings.TrimSpace(builder.appKey) == "" {
			return nil, fmt.Errorf("identitysync: app key or secret provider is required")
		}
		provider, err := security.NewAppKeySecretProviderFromString(builder.appKey)
		if err != nil {
			return nil, err
		}
		secrets = provider
	}

	factoryOpts := []sqlstore.FactoryOption{}
	if !builder.disableCache {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = builder.cacheTTL
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return nil, fmt.Errorf("identitysync: connection cache: %w", err)
		}
		factoryOpts = append(factoryOpts, sqlstore.WithConnectionCache(cacheService))
	}
	factory := sqlstore.NewRepositoryFactory(factoryOpts...)

	resolved := mergeConfig(cfg)
	tokens := auth.NewClientCredentialsTokenProvider(auth.ClientCredentialsConfig{HTTPClient: builder.httpClient})
	var doer transport.HTTPDoer
	if builder.httpClient != nil {
		doer = builder.httpClient
	}
	rest := transport.NewRESTAdapter(doer)
	if resolved.Fetch.MaxResponseBytes > 0 {
		rest.MaxResponseBodyBytes = resolved.Fetch.MaxResponseBytes
	}
	sources := source.NewDefaultRegistry(source.ConfigFromFetch(resolved.Fetch, tokens, rest))
	if err := builder.hooks.ApplySourcePacks(sources); err != nil {
		return nil, err
	}

	queue := syncrun.NewMemoryQueue(resolved.Queue.Buffer, gojob.DefaultRetryPolicy(resolved.Queue.MaxAttempts))

	serviceOpts := []core.Option{
		core.WithPersistenceClient(builder.persistenceClient),
		core.WithRepositoryFactory(factory),
		core.WithSecretProvider(secrets),
		core.WithFetcherResolver(sources),
		core.WithJobEnqueuer(queue),
	}
	if builder.metricsRecorder != nil {
		serviceOpts = append(serviceOpts, core.WithMetricsRecorder(builder.metricsRecorder))
	}
	if builder.loggerProvider != nil || builder.logger != nil {
		serviceOpts = append(serviceOpts,
			core.WithLoggerProvider(builder.loggerProvider),
			core.WithLogger(builder.logger),
		)
	}
	serviceOpts = append(serviceOpts, builder.serviceOptions...)

	service, err := core.NewService(cfg, serviceOpts...)
	if err != nil {
		queue.Close()
		return nil, err
	}
	facade, err := NewFacade(service)
	if err != nil {
		queue.Close()
		return nil, err
	}

	finalConfig := service.Config()
	workerLogger := gologger.Component(builder.loggerProvider, builder.logger, "worker")
	schedulerLogger := gologger.Component(builder.loggerProvider, builder.logger, "scheduler")
	retry := gojob.DefaultRetryPolicy(finalConfig.Queue.MaxAttempts)

	workerOpts := []syncrun.WorkerOption{
		syncrun.WithWorkerLogger(workerLogger),
		syncrun.WithRetryPolicy(retry),
		syncrun.WithConcurrency(finalConfig.Queue.Workers),
	}
	if builder.metricsRecorder != nil {
		workerOpts = append(workerOpts, syncrun.WithWorkerHook(NewMetricsWorkerHook(builder.metricsRecorder)))
	}

	return &Runtime{
		Service:   service,
		Facade:    facade,
		Queue:     queue,
		Worker:    syncrun.NewWorker(queue, service, workerOpts...),
		Scheduler: syncrun.NewScheduler(service, finalConfig.Scheduler.Interval(), syncrun.WithSchedulerLogger(schedulerLogger)),
		Sources:   sources,
		Tokens:    tokens,
		config:    finalConfig,
		logger:    service.Logger(),
	}, nil
}

// Start runs the worker, and the scheduler when enabled, until ctx is done.
// It closes the queue on return.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil || r.Worker == nil {
		return fmt.Errorf("identitysync: runtime is not configured")
	}
	defer r.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg gosync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- r.Worker.Run(runCtx)
	}()
	if r.config.Scheduler.Enabled && r.Scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Scheduler.Run(runCtx)
		}()
	}

	var first error
	go func() {
		wg.Wait()
		close(errs)
	}()
	for err := range errs {
		if err != nil && first == nil {
			first = err
			cancel()
		}
	}
	return first
}

func (r *Runtime) Close() {
	if r == nil || r.Queue == nil {
		return
	}
	r.Queue.Close()
}

func (r *Runtime) Config() Config {
	if r == nil {
		return Config{}
	}
	return r.config
}

// mergeConfig fills unset fetch and queue values from the defaults so the
// fetchers and queue can be built before the service resolves its config.
func mergeConfig(cfg Config) Config {
	defaults := core.DefaultConfig()
	if cfg.Fetch.PageSize <= 0 {
		cfg.Fetch.PageSize = defaults.Fetch.PageSize
	}
	if cfg.Fetch.MaxRecords <= 0 {
		cfg.Fetch.MaxRecords = defaults.Fetch.MaxRecords
	}
	if cfg.Fetch.RequestTimeoutSeconds <= 0 {
		cfg.Fetch.RequestTimeoutSeconds = defaults.Fetch.RequestTimeoutSeconds
	}
	if cfg.Fetch.MaxResponseBytes <= 0 {
		cfg.Fetch.MaxResponseBytes = defaults.Fetch.MaxResponseBytes
	}
	if cfg.Fetch.MaxRetries <= 0 {
		cfg.Fetch.MaxRetries = defaults.Fetch.MaxRetries
	}
	if cfg.Fetch.MaxWaitSeconds <= 0 {
		cfg.Fetch.MaxWaitSeconds = defaults.Fetch.MaxWaitSeconds
	}
	if cfg.Queue.Buffer <= 0 {
		cfg.Queue.Buffer = defaults.Queue.Buffer
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = defaults.Queue.MaxAttempts
	}
	return cfg
}
