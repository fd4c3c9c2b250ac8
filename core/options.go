package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig      Config
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
	validator          *Validator
	now                func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithSecretProvider(provider SecretProvider) Option {
	return func(b *serviceBuilder) {
		b.secretProvider = provider
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithConnectionStore(store ConnectionStore) Option {
	return func(b *serviceBuilder) {
		b.connectionStore = store
	}
}

func WithConnectionLease(lease ConnectionLease) Option {
	return func(b *serviceBuilder) {
		b.connectionLease = lease
	}
}

func WithIdentityStore(store IdentityStore) Option {
	return func(b *serviceBuilder) {
		b.identityStore = store
	}
}

func WithGroupStore(store GroupStore) Option {
	return func(b *serviceBuilder) {
		b.groupStore = store
	}
}

func WithImportTaskStore(store ImportTaskStore) Option {
	return func(b *serviceBuilder) {
		b.taskStore = store
	}
}

func WithFetcherResolver(resolver FetcherResolver) Option {
	return func(b *serviceBuilder) {
		b.fetcherResolver = resolver
	}
}

func WithCredentialResolver(resolver CredentialResolver) Option {
	return func(b *serviceBuilder) {
		b.credentialResolver = resolver
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.enqueuer = enqueuer
	}
}

func WithValidator(validator *Validator) Option {
	return func(b *serviceBuilder) {
		b.validator = validator
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("identity-sync", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

// StaticConfigLoader serves a fixed raw map, typically decoded from a file.
type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	fetch := map[string]any{}
	putInt(fetch, "page_size", cfg.Fetch.PageSize, includeZero)
	putInt(fetch, "max_records", cfg.Fetch.MaxRecords, includeZero)
	putInt(fetch, "request_timeout_seconds", cfg.Fetch.RequestTimeoutSeconds, includeZero)
	if includeZero || cfg.Fetch.MaxResponseBytes != 0 {
		fetch["max_response_bytes"] = cfg.Fetch.MaxResponseBytes
	}
	putInt(fetch, "max_retries", cfg.Fetch.MaxRetries, includeZero)
	putInt(fetch, "max_wait_seconds", cfg.Fetch.MaxWaitSeconds, includeZero)
	putSection(layer, "fetch", fetch)

	imp := map[string]any{}
	putInt(imp, "dry_run_sample_size", cfg.Import.DryRunSampleSize, includeZero)
	putBool(imp, "strict_transforms", cfg.Import.StrictTransforms, includeZero)
	putInt(imp, "lease_ttl_seconds", cfg.Import.LeaseTTLSeconds, includeZero)
	putInt(imp, "progress_interval", cfg.Import.ProgressInterval, includeZero)
	putSection(layer, "import", imp)

	preview := map[string]any{}
	putInt(preview, "cloud_idp_sample_size", cfg.Preview.CloudIdPSampleSize, includeZero)
	putInt(preview, "custom_url_sample_size", cfg.Preview.CustomURLSampleSize, includeZero)
	putSection(layer, "preview", preview)

	queue := map[string]any{}
	putInt(queue, "workers", cfg.Queue.Workers, includeZero)
	putInt(queue, "buffer", cfg.Queue.Buffer, includeZero)
	putInt(queue, "max_attempts", cfg.Queue.MaxAttempts, includeZero)
	putSection(layer, "queue", queue)

	scheduler := map[string]any{}
	putBool(scheduler, "enabled", cfg.Scheduler.Enabled, includeZero)
	putInt(scheduler, "interval_seconds", cfg.Scheduler.IntervalSeconds, includeZero)
	putSection(layer, "scheduler", scheduler)

	return layer
}

func putInt(section map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		section[key] = value
	}
}

func putBool(section map[string]any, key string, value bool, includeZero bool) {
	if includeZero || value {
		section[key] = value
	}
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		layer[key] = section
	}
}
