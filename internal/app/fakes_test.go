package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"nongsaijai/api/internal/config"
	"nongsaijai/api/internal/export"
	"nongsaijai/api/internal/pm"
	"nongsaijai/api/internal/risk"
	"nongsaijai/api/internal/search"
	"nongsaijai/api/internal/session"
	"nongsaijai/api/internal/store"
)

// memStore is an in-memory dataStore. Overrides are keyed by session ID so
// the one-override-per-session rule holds the same way the table does.
type memStore struct {
	mu        sync.Mutex
	sessions  map[string]store.ChatSession
	messages  map[string][]store.Message
	overrides map[string]store.SessionOverride
	audits    []store.AuditLog
	issueLogs []store.IssueLog
	riskLogs  []store.RiskLog
	nextID    int64
	writes    int

	pingFn        func(context.Context) error
	upsertErr     error
	getSessionHit int
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  map[string]store.ChatSession{},
		messages:  map[string][]store.Message{},
		overrides: map[string]store.SessionOverride{},
	}
}

func (m *memStore) addSession(item store.ChatSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Date(2026, 9, 1, 0, 0, len(m.sessions), 0, time.UTC)
	}
	m.sessions[item.ID] = item
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) CreateSession(_ context.Context, item store.ChatSession) (store.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.CreatedAt = time.Now().UTC()
	item.UpdatedAt = item.CreatedAt
	m.sessions[item.ID] = item
	m.writes++
	return item, nil
}

func (m *memStore) EnsureSession(_ context.Context, id, ownerID, ownerName string) (store.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	item := store.ChatSession{ID: id, OwnerID: ownerID, OwnerName: ownerName, CreatedAt: time.Now().UTC()}
	m.sessions[id] = item
	m.writes++
	return item, nil
}

func (m *memStore) GetSession(_ context.Context, id string) (store.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getSessionHit++
	item, ok := m.sessions[id]
	if !ok {
		return store.ChatSession{}, store.ErrNotFound
	}
	return item, nil
}

func (m *memStore) effective(item store.ChatSession) store.EffectiveSession {
	out := store.EffectiveSession{ChatSession: item}
	var override *risk.Override
	if saved, ok := m.overrides[item.ID]; ok {
		override = &saved.Override
		if saved.IsActive {
			out.OverriddenBy = saved.OverriddenBy
			out.OverrideNotes = saved.Notes
		}
	}
	out.Effective = risk.Resolve(item.AIFields(), override)
	return out
}

func (m *memStore) GetEffectiveSession(_ context.Context, id string) (store.EffectiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sessions[id]
	if !ok {
		return store.EffectiveSession{}, store.ErrNotFound
	}
	return m.effective(item), nil
}

func (m *memStore) filtered(filter store.SessionFilter) []store.EffectiveSession {
	var allowed map[string]bool
	if filter.IDs != nil {
		allowed = map[string]bool{}
		for _, id := range filter.IDs {
			allowed[id] = true
		}
	}
	items := make([]store.EffectiveSession, 0)
	for _, session := range m.sessions {
		item := m.effective(session)
		if filter.Status != nil && (item.Effective.Status == nil || *item.Effective.Status != *filter.Status) {
			continue
		}
		if filter.Category != nil && (item.Effective.Category == nil || *item.Effective.Category != *filter.Category) {
			continue
		}
		if filter.ProjectCode != "" && (item.ProjectCode == nil || *item.ProjectCode != filter.ProjectCode) {
			continue
		}
		if filter.HasOverride != nil && item.Effective.HasOverride != *filter.HasOverride {
			continue
		}
		if allowed != nil && !allowed[item.ID] {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items
}

func (m *memStore) ListEffectiveSessions(_ context.Context, filter store.SessionFilter) ([]store.EffectiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.filtered(filter)
	if filter.Offset > len(items) {
		return []store.EffectiveSession{}, nil
	}
	items = items[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(items) {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (m *memStore) CountEffectiveSessions(_ context.Context, filter store.SessionFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.filtered(filter)), nil
}

func (m *memStore) MarkAdminOpened(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.sessions[id]
	item.AdminOpened = true
	m.sessions[id] = item
	return nil
}

func (m *memStore) UpdateProjectCode(_ context.Context, id string, code *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sessions[id]
	if !ok {
		return false, nil
	}
	item.ProjectCode = code
	m.sessions[id] = item
	m.writes++
	return true, nil
}

func (m *memStore) UpdateClassification(_ context.Context, id string, c store.Classification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.sessions[id]
	if !ok {
		return false, nil
	}
	item.Status, item.Category, item.Summary, item.RiskScores = c.Status, c.Category, c.Summary, c.RiskScores
	now := time.Now().UTC()
	item.ClassifiedAt = &now
	m.sessions[id] = item
	m.writes++
	return true, nil
}

func (m *memStore) AppendMessage(_ context.Context, msg store.Message) (store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.id()
	msg.CreatedAt = time.Now().UTC()
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	m.writes++
	return msg, nil
}

func (m *memStore) ListMessages(_ context.Context, sessionID string, _ int) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Message(nil), m.messages[sessionID]...), nil
}

func (m *memStore) CountMessages(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[sessionID]), nil
}

func (m *memStore) upsert(override store.SessionOverride) store.SessionOverride {
	override.OverriddenAt = time.Now().UTC()
	override.IsActive = true
	m.overrides[override.SessionID] = override
	m.writes++
	return override
}

func (m *memStore) UpsertOverride(_ context.Context, override store.SessionOverride) (store.SessionOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return store.SessionOverride{}, m.upsertErr
	}
	if _, ok := m.sessions[override.SessionID]; !ok {
		return store.SessionOverride{}, fmt.Errorf("upsert override: session %s missing", override.SessionID)
	}
	return m.upsert(override), nil
}

func (m *memStore) DeactivateOverride(_ context.Context, sessionID, actor string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved, ok := m.overrides[sessionID]
	if !ok || !saved.IsActive {
		return false, nil
	}
	saved.IsActive = false
	saved.OverriddenBy = actor
	m.overrides[sessionID] = saved
	m.writes++
	return true, nil
}

func (m *memStore) InsertAuditLog(_ context.Context, entry store.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.id()
	entry.CreatedAt = time.Now().UTC()
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memStore) ListAuditLogs(_ context.Context, sessionID string, limit int) ([]store.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.AuditLog, 0)
	for i := len(m.audits) - 1; i >= 0 && len(items) < limit; i-- {
		entry := m.audits[i]
		if sessionID != "" && (entry.SessionID == nil || *entry.SessionID != sessionID) {
			continue
		}
		items = append(items, entry)
	}
	return items, nil
}

// linkLog mirrors the transactional store: nothing is kept when any step
// fails.
func (m *memStore) linkLog(override store.SessionOverride, status risk.Status, kind string, logID int64, audit store.AuditLog) (store.SessionOverride, error) {
	if m.upsertErr != nil {
		return store.SessionOverride{}, m.upsertErr
	}
	if _, ok := m.sessions[override.SessionID]; !ok {
		return store.SessionOverride{}, fmt.Errorf("upsert override: session %s missing", override.SessionID)
	}
	override.Status = status
	override.Notes = risk.WithLogReference(override.Notes, status, kind, logID)
	saved := m.upsert(override)
	if audit.Details == nil {
		audit.Details = map[string]any{}
	}
	audit.Details["pm_log_kind"] = kind
	audit.Details["pm_log_id"] = logID
	audit.ID = m.id()
	m.audits = append(m.audits, audit)
	return saved, nil
}

func (m *memStore) CreateIssueLogWithOverride(_ context.Context, entry store.IssueLog, override store.SessionOverride, audit store.AuditLog) (store.IssueLog, store.SessionOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.id()
	saved, err := m.linkLog(override, risk.StatusIssue, "issue", entry.ID, audit)
	if err != nil {
		return store.IssueLog{}, store.SessionOverride{}, err
	}
	m.issueLogs = append(m.issueLogs, entry)
	return entry, saved, nil
}

func (m *memStore) CreateRiskLogWithOverride(_ context.Context, entry store.RiskLog, override store.SessionOverride, audit store.AuditLog) (store.RiskLog, store.SessionOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.id()
	saved, err := m.linkLog(override, risk.StatusRisk, "risk", entry.ID, audit)
	if err != nil {
		return store.RiskLog{}, store.SessionOverride{}, err
	}
	m.riskLogs = append(m.riskLogs, entry)
	return entry, saved, nil
}

func (m *memStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

type memSessions struct {
	mu   sync.Mutex
	data map[string]session.Data
}

func newMemSessions() *memSessions {
	return &memSessions{data: map[string]session.Data{}}
}

func (m *memSessions) Save(_ context.Context, data session.Data, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if data.ExpiresAt.IsZero() {
		data.ExpiresAt = time.Now().Add(ttl)
	}
	m.data[data.ID] = data
	return nil
}

func (m *memSessions) Lookup(_ context.Context, id string) (session.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[id]
	if !ok || !time.Now().Before(data.ExpiresAt) {
		return session.Data{}, session.ErrSessionNotFound
	}
	return data, nil
}

func (m *memSessions) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

type fakeDirectory struct {
	managers map[string]pm.Employee
	lookups  map[string][]pm.LookupValue
}

func newFakeDirectory() *fakeDirectory {
	lookups := map[string][]pm.LookupValue{}
	id := int64(100)
	for _, group := range pm.Groups {
		for _, code := range []string{"DEFAULT", "HIGH"} {
			id++
			lookups[group] = append(lookups[group], pm.LookupValue{ID: id, Group: group, Code: code, Label: code})
		}
	}
	return &fakeDirectory{
		managers: map[string]pm.Employee{"PRJ-001": {ID: 7, FullName: "Pranee PM", Email: "pranee@example.com"}},
		lookups:  lookups,
	}
}

func (f *fakeDirectory) ProjectManager(_ context.Context, projectCode string) (pm.Employee, error) {
	manager, ok := f.managers[projectCode]
	if !ok {
		return pm.Employee{}, fmt.Errorf("%w: %s", pm.ErrProjectManagerNotFound, projectCode)
	}
	return manager, nil
}

func (f *fakeDirectory) Lookup(_ context.Context, group, code string) (pm.LookupValue, error) {
	for _, value := range f.lookups[group] {
		if value.Code == code {
			return value, nil
		}
	}
	return pm.LookupValue{}, fmt.Errorf("%w: %s/%s", pm.ErrLookupNotFound, group, code)
}

func (f *fakeDirectory) ListLookups(_ context.Context, group string) ([]pm.LookupValue, error) {
	return f.lookups[group], nil
}

type fakeSearch struct {
	ids     []string
	queries []string
	limits  []int
	indexed []search.SessionRecord
}

func (f *fakeSearch) SessionIDs(_ context.Context, q search.Query) ([]string, error) {
	f.queries = append(f.queries, q.Text)
	f.limits = append(f.limits, q.Limit)
	return f.ids, nil
}

func (f *fakeSearch) IndexSession(record search.SessionRecord) {
	f.indexed = append(f.indexed, record)
}

type fakeExporter struct {
	canArchive bool
	filter     store.SessionFilter
	format     export.Format
	archived   bool
}

func (f *fakeExporter) Executive(_ context.Context, filter store.SessionFilter, format export.Format) (*export.Result, error) {
	f.filter, f.format = filter, format
	return &export.Result{
		Data:     []byte("PK\x03\x04"),
		Filename: "executive-summary-20261016." + string(format),
		MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}, nil
}

func (f *fakeExporter) Archive(_ context.Context, result *export.Result) (string, error) {
	f.archived = true
	result.ArchiveKey = "executive/2026/10/" + result.Filename
	result.DownloadURL = "https://files.example.test/" + result.ArchiveKey
	return result.ArchiveKey, nil
}

func (f *fakeExporter) CanArchive() bool {
	return f.canArchive
}

const testSecret = "test-secret"

type testEnv struct {
	store     *memStore
	sessions  *memSessions
	directory *fakeDirectory
	search    *fakeSearch
	exporter  *fakeExporter
	service   *Service
	server    *HTTPServer
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:     newMemStore(),
		sessions:  newMemSessions(),
		directory: newFakeDirectory(),
		search:    &fakeSearch{},
		exporter:  &fakeExporter{},
	}
	env.service = &Service{
		cfg: config.Config{
			TokenSecret: testSecret,
			SyncToken:   "sync-secret",
			SessionTTL:  time.Hour,
		},
		store:     env.store,
		sessions:  env.sessions,
		directory: env.directory,
		search:    env.search,
		export:    env.exporter,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	env.server = NewHTTPServer(env.service, "*", nil)

	expires := time.Now().Add(time.Hour)
	_ = env.sessions.Save(context.Background(), session.Data{ID: adminSID, UserID: "admin-1", UserName: "Admin One", IsAdmin: true, ExpiresAt: expires}, time.Hour)
	_ = env.sessions.Save(context.Background(), session.Data{ID: userSID, UserID: "user-1", UserName: "User One", ExpiresAt: expires}, time.Hour)
	_ = env.sessions.Save(context.Background(), session.Data{ID: otherSID, UserID: "user-2", UserName: "User Two", ExpiresAt: expires}, time.Hour)
	return env
}

const (
	adminSID = "sid-admin"
	userSID  = "sid-user"
	otherSID = "sid-other"

	sessionA = "6f1c2a40-3b9e-4f6e-8d3c-1a2b3c4d5e01"
	sessionB = "6f1c2a40-3b9e-4f6e-8d3c-1a2b3c4d5e02"
)

func ptr[T any](v T) *T { return &v }
