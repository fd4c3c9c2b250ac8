package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultGroupMappings is used by the group pass.
var DefaultGroupMappings = []AttributeMapping{
	{Source: "id", Destination: "external_id"},
	{Source: "name", Destination: "name", Required: true},
	{Source: "description", Destination: "description"},
}

type ProgressFunc func(ctx context.Context, processed int, total int)

type RunRequest struct {
	Connection  ConnectionConfig
	Credentials Credentials
	// Mappings is the resolved user mapping; heuristics fill unmapped fields
	// after fetch.
	Mappings []AttributeMapping
	DryRun   bool
	TaskType ImportTaskType
	Progress ProgressFunc
}

type ImportResult struct {
	Stats            ImportStats
	Status           ImportTaskStatus
	TotalRecords     int
	Samples          []SampleRecord
	ValidationIssues []string
	Err              error
}

func (r ImportResult) FailureMessage() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if len(r.Stats.Errors) > 0 {
		return r.Stats.Errors[0]
	}
	return ""
}

func (r ImportResult) DryRunResults() *DryRunResults {
	errs := append([]string{}, r.Stats.Errors...)
	issues := append([]string{}, r.ValidationIssues...)
	samples := append([]SampleRecord{}, r.Samples...)
	return &DryRunResults{
		TotalRecords:         r.TotalRecords,
		WouldCreate:          r.Stats.Created(),
		WouldUpdate:          r.Stats.Updated(),
		WouldSkip:            r.Stats.Skipped(),
		Errors:               errs,
		ValidationIssues:     issues,
		SampleProcessedUsers: samples,
	}
}

type ImportExecutorConfig struct {
	Fetchers         FetcherResolver
	Identities       IdentityStore
	Groups           GroupStore
	Validator        *Validator
	Compiler         MappingCompiler
	SampleSize       int
	ProgressInterval int
	Logger           Logger
	Now              func() time.Time
}

// ImportExecutor drives fetch, map, validate, match and persist for one run.
type ImportExecutor struct {
	fetchers         FetcherResolver
	identities       IdentityStore
	groups           GroupStore
	matcher          *Matcher
	validator        *Validator
	compiler         MappingCompiler
	sampleSize       int
	progressInterval int
	logger           Logger
	now              func() time.Time
}

func NewImportExecutor(cfg ImportExecutorConfig) *ImportExecutor {
	validator := cfg.Validator
	if validator == nil {
		validator = NewValidator()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	sampleSize := cfg.SampleSize
	if sampleSize < 0 {
		sampleSize = 0
	}
	return &ImportExecutor{
		fetchers:         cfg.Fetchers,
		identities:       cfg.Identities,
		groups:           cfg.Groups,
		matcher:          NewMatcher(cfg.Identities, cfg.Groups),
		validator:        validator,
		compiler:         cfg.Compiler,
		sampleSize:       sampleSize,
		progressInterval: cfg.ProgressInterval,
		logger:           cfg.Logger,
		now:              now,
	}
}

// Run never returns an error; every failure is folded into the result.
func (e *ImportExecutor) Run(ctx context.Context, req RunRequest) ImportResult {
	run := &importRun{
		executor: e,
		req:      req,
		result: ImportResult{
			Stats:            ImportStats{StartedAt: e.now(), Errors: []string{}},
			Samples:          []SampleRecord{},
			ValidationIssues: []string{},
		},
		ledger: newDryRunLedger(),
	}
	run.execute(ctx)
	run.result.Stats.CompletedAt = e.now()
	run.result.Stats.Duration = run.result.Stats.CompletedAt.Sub(run.result.Stats.StartedAt)
	return run.result
}

type importRun struct {
	executor  *ImportExecutor
	req       RunRequest
	result    ImportResult
	ledger    *dryRunLedger
	processed int
}

func (r *importRun) execute(ctx context.Context) {
	passes := r.req.TaskType.Resources(r.req.Connection)
	if len(passes) == 0 {
		r.fail(fmt.Errorf("core: no import pass is enabled for task type %q", r.req.TaskType))
		return
	}
	if r.executor.fetchers == nil {
		r.fail(NewImportError(ImportErrorKindFetch, "", fmt.Errorf("core: fetcher resolver is not configured")))
		return
	}

	failedPasses := 0
	for _, pass := range passes {
		err := r.runPass(ctx, pass)
		if err == nil {
			continue
		}
		r.result.Stats.Errors = append(r.result.Stats.Errors, fmt.Sprintf("%s pass: %s", pass, err.Error()))
		if ClassifyImportError(err) == ImportErrorKindAuth {
			r.result.Err = err
			r.result.Status = ImportTaskStatusFailed
			return
		}
		if r.result.Err == nil {
			r.result.Err = err
		}
		failedPasses++
	}

	switch {
	case failedPasses == len(passes):
		r.result.Status = ImportTaskStatusFailed
	case len(r.result.Stats.Errors) > 0:
		r.result.Status = ImportTaskStatusCompletedWithErrors
	default:
		r.result.Status = ImportTaskStatusCompleted
		r.result.Err = nil
	}
}

func (r *importRun) fail(err error) {
	r.result.Err = err
	r.result.Status = ImportTaskStatusFailed
	r.result.Stats.Errors = append(r.result.Stats.Errors, err.Error())
}

func (r *importRun) runPass(ctx context.Context, pass ResourceType) error {
	fetcher, err := r.executor.fetchers.Resolve(r.req.Connection.SourceType)
	if err != nil {
		return asFetchError(pass, err)
	}
	fetched, err := fetcher.Fetch(ctx, FetchRequest{
		Connection:  r.req.Connection,
		Credentials: r.req.Credentials,
		Resource:    pass,
	})
	if err != nil {
		return asFetchError(pass, err)
	}
	if fetched.Truncated {
		r.executor.logInfo(ctx, "import source truncated at record cap", map[string]any{
			"connection_id": r.req.Connection.ID,
			"pass":          string(pass),
			"records":       len(fetched.Records),
		})
	}
	r.result.TotalRecords += len(fetched.Records)

	mapping, err := r.compilePass(pass, fetched.Records)
	if err != nil {
		return err
	}

	for idx, record := range fetched.Records {
		if err := ctx.Err(); err != nil {
			return NewImportError(ImportErrorKindFetch, pass, err)
		}
		r.processRecord(ctx, pass, idx+1, record, mapping)
		r.processed++
		if r.executor.progressInterval > 0 && r.processed%r.executor.progressInterval == 0 {
			r.reportProgress(ctx)
		}
	}
	r.reportProgress(ctx)
	return nil
}

func (r *importRun) compilePass(pass ResourceType, records []SourceRecord) (CompiledMapping, error) {
	var (
		mappings []AttributeMapping
		expected []string
	)
	switch pass {
	case ResourceGroups:
		mappings = DefaultGroupMappings
		expected = []string{"name"}
	default:
		mappings = ApplySuggestions(r.req.Mappings, DetectFields(records))
		expected = []string{"username", "email"}
	}
	compiled, err := r.executor.compiler.Compile(mappings, expected...)
	if err != nil {
		return CompiledMapping{}, NewImportError(ImportErrorKindTransform, pass, err)
	}
	for _, issue := range compiled.IssueStrings() {
		if pass == ResourceGroups {
			issue = "groups: " + issue
		}
		r.result.ValidationIssues = append(r.result.ValidationIssues, issue)
	}
	return compiled, nil
}

func (r *importRun) reportProgress(ctx context.Context) {
	if r.req.Progress != nil {
		r.req.Progress(ctx, r.processed, r.result.TotalRecords)
	}
}

func (r *importRun) processRecord(
	ctx context.Context,
	pass ResourceType,
	index int,
	record SourceRecord,
	mapping CompiledMapping,
) {
	var mapped MappedRecord
	defer func() {
		if recovered := recover(); recovered != nil {
			r.skip(pass, index, record, mapped, fmt.Errorf("unexpected failure: %v", recovered))
		}
	}()

	mapped = Map(record, mapping)
	var (
		action   RecordAction
		existing *IdentityRef
		err      error
	)
	switch pass {
	case ResourceGroups:
		action, err = r.processGroup(ctx, mapped, mapping)
	default:
		action, existing, err = r.processUser(ctx, mapped, mapping)
	}
	if err != nil {
		r.skip(pass, index, record, mapped, err)
		if pass == ResourceUsers {
			r.sample(record, mapped, RecordActionSkip, nil)
		}
		return
	}
	r.count(pass, action)
	if pass == ResourceUsers {
		r.sample(record, mapped, action, existing)
	}
}

func (r *importRun) processUser(
	ctx context.Context,
	mapped MappedRecord,
	mapping CompiledMapping,
) (RecordAction, *IdentityRef, error) {
	validation := r.executor.validator.Validate(mapped, mapping.RequiredDestinations())
	if !validation.Valid {
		return RecordActionSkip, nil, NewImportError(
			ImportErrorKindValidation,
			ResourceUsers,
			errors.New(strings.Join(validation.Errors, "; ")),
		)
	}

	match, err := r.executor.matcher.Match(ctx, mapped)
	if err != nil {
		return RecordActionSkip, nil, NewImportError(ImportErrorKindPersistence, ResourceUsers, err)
	}
	if !match.Found && r.req.DryRun {
		if ref, ok := r.ledger.match(mapped); ok {
			match = MatchResult{Found: true, Identity: ref}
		}
	}

	if r.req.DryRun {
		if match.Found {
			ref := match.Identity
			return RecordActionUpdate, &ref, nil
		}
		r.ledger.remember(mapped)
		return RecordActionCreate, nil, nil
	}

	if match.Found {
		current, err := r.executor.identities.Get(ctx, match.Identity.ID)
		if err != nil {
			return RecordActionSkip, nil, NewImportError(ImportErrorKindPersistence, ResourceUsers, err)
		}
		ref := current.Ref()
		if _, err := r.executor.identities.Update(ctx, mergeIdentity(current, mapped, r.req.Connection.ID)); err != nil {
			return RecordActionSkip, nil, NewImportError(ImportErrorKindPersistence, ResourceUsers, err)
		}
		return RecordActionUpdate, &ref, nil
	}

	identity := mergeIdentity(Identity{ID: uuid.NewString()}, mapped, r.req.Connection.ID)
	if _, err := r.executor.identities.Create(ctx, identity); err != nil {
		return RecordActionSkip, nil, NewImportError(ImportErrorKindPersistence, ResourceUsers, err)
	}
	return RecordActionCreate, nil, nil
}

func (r *importRun) processGroup(ctx context.Context, mapped MappedRecord, mapping CompiledMapping) (RecordAction, error) {
	validation := r.executor.validator.ValidateGroup(mapped, mapping.RequiredDestinations())
	if !validation.Valid {
		return RecordActionSkip, NewImportError(
			ImportErrorKindValidation,
			ResourceGroups,
			errors.New(strings.Join(validation.Errors, "; ")),
		)
	}
	match, err := r.executor.matcher.MatchGroup(ctx, mapped)
	if err != nil {
		return RecordActionSkip, NewImportError(ImportErrorKindPersistence, ResourceGroups, err)
	}
	if r.req.DryRun {
		if match.Found || r.ledger.seenGroup(mapped) {
			return RecordActionUpdate, nil
		}
		return RecordActionCreate, nil
	}
	if match.Found {
		if _, err := r.executor.groups.Update(ctx, mergeGroup(match.Group, mapped, r.req.Connection.ID)); err != nil {
			return RecordActionSkip, NewImportError(ImportErrorKindPersistence, ResourceGroups, err)
		}
		return RecordActionUpdate, nil
	}
	group := mergeGroup(Group{ID: uuid.NewString()}, mapped, r.req.Connection.ID)
	if _, err := r.executor.groups.Create(ctx, group); err != nil {
		return RecordActionSkip, NewImportError(ImportErrorKindPersistence, ResourceGroups, err)
	}
	return RecordActionCreate, nil
}

func (r *importRun) count(pass ResourceType, action RecordAction) {
	stats := &r.result.Stats
	if pass == ResourceGroups {
		stats.GroupsProcessed++
		switch action {
		case RecordActionCreate:
			stats.GroupsCreated++
		case RecordActionUpdate:
			stats.GroupsUpdated++
		default:
			stats.GroupsSkipped++
		}
		return
	}
	stats.UsersProcessed++
	switch action {
	case RecordActionCreate:
		stats.UsersCreated++
	case RecordActionUpdate:
		stats.UsersUpdated++
	default:
		stats.UsersSkipped++
	}
}

func (r *importRun) skip(pass ResourceType, index int, record SourceRecord, mapped MappedRecord, err error) {
	r.count(pass, RecordActionSkip)
	message := err.Error()
	var importErr *ImportError
	if errors.As(err, &importErr) && importErr.Err != nil {
		message = importErr.Err.Error()
	}
	r.result.Stats.Errors = append(r.result.Stats.Errors,
		fmt.Sprintf("record %d (%s): %s", index, recordIdentifier(record, mapped), message))
}

func (r *importRun) sample(record SourceRecord, mapped MappedRecord, action RecordAction, existing *IdentityRef) {
	if !r.req.DryRun || len(r.result.Samples) >= r.executor.sampleSize {
		return
	}
	r.result.Samples = append(r.result.Samples, SampleRecord{
		Original:     cloneSourceRecord(record),
		Mapped:       MappedRecord(cloneAnyMap(mapped)),
		Action:       action,
		ExistingUser: existing,
	})
}

func (e *ImportExecutor) logInfo(ctx context.Context, message string, fields map[string]any) {
	if e == nil || e.logger == nil {
		return
	}
	fields = RedactSensitiveMap(fields)
	logger := e.logger.WithContext(ctx)
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	logger.Info(message, flattenFields(fields)...)
}

func asFetchError(pass ResourceType, err error) error {
	var importErr *ImportError
	if errors.As(err, &importErr) {
		if importErr.Pass == "" {
			importErr.Pass = pass
		}
		return importErr
	}
	kind := ClassifyImportError(err)
	if kind != ImportErrorKindAuth {
		kind = ImportErrorKindFetch
	}
	return NewImportError(kind, pass, err)
}

// recordIdentifier picks the most recognizable value for error messages.
func recordIdentifier(record SourceRecord, mapped MappedRecord) string {
	for _, key := range []string{"username", "email", "name", "external_id"} {
		if value := mapped.String(key); value != "" {
			return value
		}
	}
	source := MappedRecord(record)
	for _, key := range []string{"id", "login", "email", "userName", "username", "name"} {
		if value := source.String(key); value != "" {
			return key + "=" + value
		}
	}
	return "unidentified"
}

func mergeIdentity(current Identity, mapped MappedRecord, connectionID string) Identity {
	assign := func(target *string, key string) {
		if value := mapped.String(key); value != "" {
			*target = value
		}
	}
	assign(&current.Username, "username")
	assign(&current.Email, "email")
	assign(&current.ExternalID, "external_id")
	assign(&current.FirstName, "first_name")
	assign(&current.LastName, "last_name")
	assign(&current.DisplayName, "display_name")
	attributes := cloneAnyMap(current.Attributes)
	if attributes == nil {
		attributes = map[string]any{}
	}
	for key, value := range mapped {
		attributes[key] = cloneValue(value)
	}
	current.Attributes = attributes
	current.SourceConnectionID = connectionID
	return current
}

func mergeGroup(current Group, mapped MappedRecord, connectionID string) Group {
	if value := mapped.String("name"); value != "" {
		current.Name = value
	}
	if value := mapped.String("external_id"); value != "" {
		current.ExternalID = value
	}
	if value := mapped.String("description"); value != "" {
		current.Description = value
	}
	attributes := cloneAnyMap(current.Attributes)
	if attributes == nil {
		attributes = map[string]any{}
	}
	for key, value := range mapped {
		attributes[key] = cloneValue(value)
	}
	current.Attributes = attributes
	current.SourceConnectionID = connectionID
	return current
}

// dryRunLedger remembers records a dry run would have created so later records
// in the same run classify the way a live run would.
type dryRunLedger struct {
	byEmail    map[string]IdentityRef
	byUsername map[string]IdentityRef
	groups     map[string]struct{}
}

func newDryRunLedger() *dryRunLedger {
	return &dryRunLedger{
		byEmail:    map[string]IdentityRef{},
		byUsername: map[string]IdentityRef{},
		groups:     map[string]struct{}{},
	}
}

func (l *dryRunLedger) match(mapped MappedRecord) (IdentityRef, bool) {
	if ref, ok := l.byEmail[strings.ToLower(mapped.String("email"))]; ok {
		return ref, true
	}
	if ref, ok := l.byUsername[mapped.String("username")]; ok {
		return ref, true
	}
	return IdentityRef{}, false
}

func (l *dryRunLedger) remember(mapped MappedRecord) {
	ref := IdentityRef{Username: mapped.String("username"), Email: mapped.String("email")}
	if ref.Email != "" {
		l.byEmail[strings.ToLower(ref.Email)] = ref
	}
	if ref.Username != "" {
		l.byUsername[ref.Username] = ref
	}
}

// seenGroup reports whether an earlier record in the run carried the same
// group key, recording the key otherwise.
func (l *dryRunLedger) seenGroup(mapped MappedRecord) bool {
	key := mapped.String("external_id")
	if key == "" {
		key = "name:" + mapped.String("name")
	}
	if _, ok := l.groups[key]; ok {
		return true
	}
	l.groups[key] = struct{}{}
	return false
}
