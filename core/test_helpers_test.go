package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type testSecretProvider struct{}

func (testSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("test secret provider: plaintext is required")
	}
	return []byte("enc:" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (testSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	value := strings.TrimSpace(string(ciphertext))
	if !strings.HasPrefix(value, "enc:") {
		return nil, fmt.Errorf("test secret provider: invalid ciphertext")
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "enc:"))
	if err != nil {
		return nil, fmt.Errorf("test secret provider: decode ciphertext: %w", err)
	}
	return decoded, nil
}

type memoryConnectionStore struct {
	mu   sync.Mutex
	byID map[string]ConnectionConfig
}

func newMemoryConnectionStore(conns ...ConnectionConfig) *memoryConnectionStore {
	store := &memoryConnectionStore{byID: map[string]ConnectionConfig{}}
	for _, conn := range conns {
		store.byID[conn.ID] = conn
	}
	return store
}

func (s *memoryConnectionStore) Get(_ context.Context, id string) (ConnectionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.byID[id]
	if !ok {
		return ConnectionConfig{}, fmt.Errorf("%w: %q", ErrConnectionNotFound, id)
	}
	return conn, nil
}

func (s *memoryConnectionStore) Save(_ context.Context, conn ConnectionConfig) (ConnectionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[conn.ID] = conn
	return conn, nil
}

func (s *memoryConnectionStore) List(context.Context) ([]ConnectionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConnectionConfig, 0, len(s.byID))
	for _, conn := range s.byID {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryConnectionStore) SaveSyncOutcome(_ context.Context, id string, outcome SyncOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrConnectionNotFound, id)
	}
	conn.SyncStatus = outcome.Status
	conn.LastError = outcome.LastError
	if outcome.Stats != nil {
		stats := outcome.Stats.Clone()
		conn.ImportStats = &stats
	}
	if !outcome.LastSyncAt.IsZero() {
		at := outcome.LastSyncAt
		conn.LastSyncAt = &at
	}
	s.byID[id] = conn
	return nil
}

type memoryIdentityStore struct {
	mu      sync.Mutex
	byID    map[string]Identity
	order   []string
	creates int
	updates int
	failOn  string
}

func newMemoryIdentityStore(identities ...Identity) *memoryIdentityStore {
	store := &memoryIdentityStore{byID: map[string]Identity{}}
	for _, identity := range identities {
		store.byID[identity.ID] = identity
		store.order = append(store.order, identity.ID)
	}
	return store
}

func (s *memoryIdentityStore) Create(_ context.Context, identity Identity) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && identity.Username == s.failOn {
		return Identity{}, fmt.Errorf("insert rejected for %s", identity.Username)
	}
	s.byID[identity.ID] = identity
	s.order = append(s.order, identity.ID)
	s.creates++
	return identity, nil
}

func (s *memoryIdentityStore) Get(_ context.Context, id string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return identity, nil
}

func (s *memoryIdentityStore) Update(_ context.Context, identity Identity) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[identity.ID]; !ok {
		return Identity{}, ErrIdentityNotFound
	}
	s.byID[identity.ID] = identity
	s.updates++
	return identity, nil
}

func (s *memoryIdentityStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

func (s *memoryIdentityStore) List(_ context.Context, filter IdentityFilter) ([]Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Identity
	for _, id := range s.order {
		identity, ok := s.byID[id]
		if !ok {
			continue
		}
		if filter.Email != "" && !strings.EqualFold(identity.Email, filter.Email) {
			continue
		}
		if filter.Username != "" && identity.Username != filter.Username {
			continue
		}
		out = append(out, identity)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *memoryIdentityStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

type memoryGroupStore struct {
	mu   sync.Mutex
	byID map[string]Group
}

func newMemoryGroupStore() *memoryGroupStore {
	return &memoryGroupStore{byID: map[string]Group{}}
}

func (s *memoryGroupStore) Create(_ context.Context, group Group) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[group.ID] = group
	return group, nil
}

func (s *memoryGroupStore) Get(_ context.Context, id string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.byID[id]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return group, nil
}

func (s *memoryGroupStore) Update(_ context.Context, group Group) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[group.ID] = group
	return group, nil
}

func (s *memoryGroupStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

func (s *memoryGroupStore) List(_ context.Context, filter GroupFilter) ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Group
	for _, group := range s.byID {
		if filter.ExternalID != "" && group.ExternalID != filter.ExternalID {
			continue
		}
		if filter.Name != "" && group.Name != filter.Name {
			continue
		}
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type memoryTaskStore struct {
	mu      sync.Mutex
	byID    map[string]ImportTask
	history map[string][]ImportTaskStatus
}

func newMemoryTaskStore() *memoryTaskStore {
	return &memoryTaskStore{byID: map[string]ImportTask{}, history: map[string][]ImportTaskStatus{}}
}

func (s *memoryTaskStore) Create(_ context.Context, task ImportTask) (ImportTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[task.ID] = task
	s.history[task.ID] = append(s.history[task.ID], task.Status)
	return task, nil
}

func (s *memoryTaskStore) Get(_ context.Context, id string) (ImportTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.byID[id]
	if !ok {
		return ImportTask{}, fmt.Errorf("%w: %q", ErrImportTaskNotFound, id)
	}
	return task, nil
}

func (s *memoryTaskStore) Update(_ context.Context, task ImportTask) (ImportTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[task.ID]; !ok {
		return ImportTask{}, fmt.Errorf("%w: %q", ErrImportTaskNotFound, task.ID)
	}
	s.byID[task.ID] = task
	statuses := s.history[task.ID]
	if len(statuses) == 0 || statuses[len(statuses)-1] != task.Status {
		s.history[task.ID] = append(statuses, task.Status)
	}
	return task, nil
}

func (s *memoryTaskStore) ListByConnection(_ context.Context, connectionID string, limit int) ([]ImportTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ImportTask
	for _, task := range s.byID {
		if task.ConnectionID == connectionID {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryTaskStore) statuses(id string) []ImportTaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ImportTaskStatus(nil), s.history[id]...)
}

type stubFetcher struct {
	mu       sync.Mutex
	records  map[ResourceType][]SourceRecord
	errs     map[ResourceType]error
	requests []FetchRequest
}

func (f *stubFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := f.errs[req.Resource]; err != nil {
		return FetchResult{}, err
	}
	records := f.records[req.Resource]
	if req.Limit > 0 && len(records) > req.Limit {
		records = records[:req.Limit]
	}
	out := make([]SourceRecord, 0, len(records))
	for _, record := range records {
		out = append(out, cloneSourceRecord(record))
	}
	return FetchResult{Records: out, Pages: 1}, nil
}

type stubFetcherResolver struct {
	fetcher SourceFetcher
}

func (r stubFetcherResolver) Resolve(SourceType) (SourceFetcher, error) {
	if r.fetcher == nil {
		return nil, fmt.Errorf("no fetcher")
	}
	return r.fetcher, nil
}

type recordingEnqueuer struct {
	mu       sync.Mutex
	messages []*JobExecutionMessage
	err      error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, msg)
	return nil
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type testHarness struct {
	service     *Service
	connections *memoryConnectionStore
	identities  *memoryIdentityStore
	groups      *memoryGroupStore
	tasks       *memoryTaskStore
	fetcher     *stubFetcher
	enqueuer    *recordingEnqueuer
}

func testConnection(id string) ConnectionConfig {
	return ConnectionConfig{
		ID:               id,
		Name:             "test " + id,
		SourceType:       SourceTypeCustomURL,
		ImportURLs:       ImportURLs{Users: "https://example.test/users"},
		EnableUserImport: true,
		SyncStatus:       SyncStatusIdle,
	}
}

func newTestHarness(conn ConnectionConfig, identities ...Identity) *testHarness {
	h := &testHarness{
		connections: newMemoryConnectionStore(conn),
		identities:  newMemoryIdentityStore(identities...),
		groups:      newMemoryGroupStore(),
		tasks:       newMemoryTaskStore(),
		fetcher:     &stubFetcher{records: map[ResourceType][]SourceRecord{}, errs: map[ResourceType]error{}},
		enqueuer:    &recordingEnqueuer{},
	}
	svc, err := NewService(Config{},
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
		WithConnectionStore(h.connections),
		WithIdentityStore(h.identities),
		WithGroupStore(h.groups),
		WithImportTaskStore(h.tasks),
		WithFetcherResolver(stubFetcherResolver{fetcher: h.fetcher}),
		WithSecretProvider(testSecretProvider{}),
		WithJobEnqueuer(h.enqueuer),
		WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }),
	)
	if err != nil {
		panic(err)
	}
	h.service = svc
	return h
}

func userMapping() map[string]string {
	return map[string]string{"username": "username", "email": "email"}
}
