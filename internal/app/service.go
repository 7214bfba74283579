package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nongsaijai/api/internal/auth"
	"nongsaijai/api/internal/config"
	"nongsaijai/api/internal/export"
	"nongsaijai/api/internal/metrics"
	"nongsaijai/api/internal/pm"
	"nongsaijai/api/internal/rbac"
	"nongsaijai/api/internal/risk"
	"nongsaijai/api/internal/search"
	"nongsaijai/api/internal/session"
	"nongsaijai/api/internal/store"
)

const (
	defaultPageSize    = 50
	maxPageSize        = 200
	maxMessageLength   = 20000
	maxProjectCodeLen  = 64
	defaultAuditLimit  = 100
	transcriptMaxLines = 1000
)

type MessageInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ClassificationInput struct {
	Status     string          `json:"status"`
	Category   string          `json:"category"`
	Summary    *string         `json:"summary"`
	RiskScores json.RawMessage `json:"risk_scores"`
}

// SessionListInput carries the raw admin list filters from the query string.
type SessionListInput struct {
	Status      string
	Category    string
	ProjectCode string
	HasOverride string
	Query       string
	Limit       int
	Offset      int
}

type OverrideInput struct {
	Status   string          `json:"status"`
	Category string          `json:"category"`
	Notes    json.RawMessage `json:"notes"`
}

// IssueLogInput is the PM Backend issue form. Lookup fields carry codes of
// pm.lookups; dates are YYYY-MM-DD or RFC 3339.
type IssueLogInput struct {
	SessionID       string          `json:"session_id"`
	ProjectCode     string          `json:"proj_code"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	CategoryCode    string          `json:"category_code"`
	StatusCode      string          `json:"status_code"`
	EnvironmentCode string          `json:"environment_code"`
	PriorityCode    string          `json:"priority_code"`
	Component       string          `json:"component"`
	StartDate       string          `json:"start_date"`
	DueDate         string          `json:"due_date"`
	Category        string          `json:"category"`
	Notes           json.RawMessage `json:"notes"`
}

type RiskLogInput struct {
	IssueLogInput
	ImpactCode      string `json:"impact_code"`
	ProbabilityCode string `json:"probability_code"`
	MitigationPlan  string `json:"mitigation_plan"`
}

type ExportInput struct {
	Format  string
	Archive bool
	Filter  SessionListInput
}

type dataStore interface {
	CreateSession(context.Context, store.ChatSession) (store.ChatSession, error)
	EnsureSession(context.Context, string, string, string) (store.ChatSession, error)
	GetSession(context.Context, string) (store.ChatSession, error)
	GetEffectiveSession(context.Context, string) (store.EffectiveSession, error)
	ListEffectiveSessions(context.Context, store.SessionFilter) ([]store.EffectiveSession, error)
	CountEffectiveSessions(context.Context, store.SessionFilter) (int, error)
	MarkAdminOpened(context.Context, string) error
	UpdateProjectCode(context.Context, string, *string) (bool, error)
	UpdateClassification(context.Context, string, store.Classification) (bool, error)
	AppendMessage(context.Context, store.Message) (store.Message, error)
	ListMessages(context.Context, string, int) ([]store.Message, error)
	CountMessages(context.Context, string) (int, error)
	UpsertOverride(context.Context, store.SessionOverride) (store.SessionOverride, error)
	DeactivateOverride(context.Context, string, string) (bool, error)
	InsertAuditLog(context.Context, store.AuditLog) error
	ListAuditLogs(context.Context, string, int) ([]store.AuditLog, error)
	CreateIssueLogWithOverride(context.Context, store.IssueLog, store.SessionOverride, store.AuditLog) (store.IssueLog, store.SessionOverride, error)
	CreateRiskLogWithOverride(context.Context, store.RiskLog, store.SessionOverride, store.AuditLog) (store.RiskLog, store.SessionOverride, error)
	Ping(ctx context.Context) error
}

type sessionSearch interface {
	SessionIDs(context.Context, search.Query) ([]string, error)
	IndexSession(search.SessionRecord)
}

type exporter interface {
	Executive(context.Context, store.SessionFilter, export.Format) (*export.Result, error)
	Archive(context.Context, *export.Result) (string, error)
	CanArchive() bool
}

// Deps are the adapters the service runs on. Search, Export and Metrics
// are optional.
type Deps struct {
	Store     *store.PostgresStore
	Sessions  session.Store
	Directory pm.Directory
	Search    *search.Service
	Export    *export.Service
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  session.Store
	directory pm.Directory
	search    sessionSearch
	export    exporter
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		directory: deps.Directory,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if deps.Export != nil {
		s.export = deps.Export
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *Service) SyncToken() string {
	return s.cfg.SyncToken
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(actor session.Data, action rbac.Action) bool {
	return rbac.Can(rbac.FromAdmin(actor.IsAdmin), action)
}

// ExchangeToken verifies a portal token and opens a server-side session.
func (s *Service) ExchangeToken(ctx context.Context, token string) (session.Data, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return session.Data{}, err
	}
	now := s.now().UTC()
	data := session.Data{
		ID:        uuid.NewString(),
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		IsAdmin:   claims.Admin,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}
	if err := s.sessions.Save(ctx, data, s.cfg.SessionTTL); err != nil {
		return session.Data{}, fmt.Errorf("save auth session: %w", err)
	}
	s.logger.Info("auth session opened", zap.String("user_id", data.UserID), zap.Bool("admin", data.IsAdmin))
	return data, nil
}

func (s *Service) SessionFromCookie(ctx context.Context, id string) (session.Data, error) {
	if strings.TrimSpace(id) == "" {
		return session.Data{}, session.ErrSessionNotFound
	}
	return s.sessions.Lookup(ctx, id)
}

func (s *Service) Logout(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, id)
}

func (s *Service) CreateChatSession(ctx context.Context, actor session.Data) (map[string]any, error) {
	created, err := s.store.CreateSession(ctx, store.ChatSession{
		ID:        uuid.NewString(),
		OwnerID:   actor.UserID,
		OwnerName: actor.UserName,
	})
	if err != nil {
		return nil, err
	}
	return chatSessionView(created), nil
}

// AppendMessage stores a chat message, creating the session on the first
// message. Only the owner may write to a session.
func (s *Service) AppendMessage(ctx context.Context, actor session.Data, sessionID string, input MessageInput) (map[string]any, error) {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	role := strings.ToLower(strings.TrimSpace(input.Role))
	if role == "" {
		role = "user"
	}
	if role != "user" && role != "assistant" {
		return nil, validationError("role must be user or assistant", map[string]any{"role": input.Role})
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, validationError("content is required", nil)
	}
	if len(content) > maxMessageLength {
		return nil, validationError("content is too long", map[string]any{"max": maxMessageLength})
	}

	chat, err := s.store.EnsureSession(ctx, id, actor.UserID, actor.UserName)
	if err != nil {
		return nil, err
	}
	if chat.OwnerID != actor.UserID {
		return nil, errForbidden
	}
	msg, err := s.store.AppendMessage(ctx, store.Message{SessionID: id, Role: role, Content: content})
	if err != nil {
		return nil, err
	}
	return map[string]any{"session": chatSessionView(chat), "message": messageView(msg)}, nil
}

func (s *Service) ListOwnMessages(ctx context.Context, actor session.Data, sessionID string) (map[string]any, error) {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	chat, err := s.store.GetSession(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Session not found")
		}
		return nil, err
	}
	if !rbac.CanAccessSession(rbac.FromAdmin(actor.IsAdmin), actor.UserID, chat.OwnerID) {
		return nil, errForbidden
	}
	return s.transcript(ctx, id)
}

// UpdateClassification applies the fields pushed by the external classifier.
func (s *Service) UpdateClassification(ctx context.Context, sessionID string, input ClassificationInput) (map[string]any, error) {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	var classification store.Classification
	if strings.TrimSpace(input.Status) != "" {
		status, err := risk.ParseStatus(input.Status)
		if err != nil {
			return nil, validationError(err.Error(), map[string]any{"allowed": risk.Statuses})
		}
		classification.Status = &status
	}
	category, err := risk.ParseCategory(input.Category)
	if err != nil {
		return nil, validationError(err.Error(), map[string]any{"allowed": risk.Categories})
	}
	classification.Category = category
	classification.Summary = input.Summary
	scores, err := risk.ParseRiskScores(input.RiskScores)
	if err != nil {
		return nil, validationError("risk_scores must be an object of {score, text}", nil)
	}
	classification.RiskScores = scores

	updated, err := s.store.UpdateClassification(ctx, id, classification)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, notFound("Session not found")
	}
	effective, err := s.store.GetEffectiveSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.indexSession(effective)
	return sessionView(effective), nil
}

func (s *Service) ListSessions(ctx context.Context, input SessionListInput) (map[string]any, error) {
	filter, truncated, err := s.sessionFilter(ctx, input)
	if err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	items, err := s.store.ListEffectiveSessions(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountEffectiveSessions(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, sessionView(item))
	}
	return map[string]any{
		"items":            views,
		"total":            total,
		"limit":            filter.Limit,
		"offset":           filter.Offset,
		"search_truncated": truncated,
	}, nil
}

// GetSession returns the effective session for the admin detail page and
// marks it as opened by an admin.
func (s *Service) GetSession(ctx context.Context, sessionID string) (map[string]any, error) {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	item, err := s.getEffective(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.AdminOpened {
		if err := s.store.MarkAdminOpened(ctx, id); err != nil {
			return nil, err
		}
		item.AdminOpened = true
	}
	count, err := s.store.CountMessages(ctx, id)
	if err != nil {
		return nil, err
	}

	view := sessionView(item)
	view["messages_count"] = count
	view["override_notes"] = item.OverrideNotes
	if item.OverrideNotes != nil && item.OverrideNotes.Concern != nil {
		view["mail_url"] = risk.ComposeURL(item.OverrideNotes.Concern.Targets, concernSubject(item), item.Effective.Summary)
	}
	return view, nil
}

func (s *Service) ListSessionMessages(ctx context.Context, sessionID string) (map[string]any, error) {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetSession(ctx, id); err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Session not found")
		}
		return nil, err
	}
	return s.transcript(ctx, id)
}

func (s *Service) transcript(ctx context.Context, id string) (map[string]any, error) {
	messages, err := s.store.ListMessages(ctx, id, transcriptMaxLines)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		items = append(items, messageView(msg))
	}
	return map[string]any{"session_id": id, "items": items}, nil
}

// UpdateProjectCode sets the project code of a session; blank clears it.
func (s *Service) UpdateProjectCode(ctx context.Context, actor session.Data, sessionID string, code *string) (map[string]any, error) {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	var normalized *string
	if code != nil {
		trimmed := strings.ToUpper(strings.TrimSpace(*code))
		if len(trimmed) > maxProjectCodeLen {
			return nil, validationError("proj_code is too long", map[string]any{"max": maxProjectCodeLen})
		}
		if trimmed != "" {
			normalized = &trimmed
		}
	}

	updated, err := s.store.UpdateProjectCode(ctx, id, normalized)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, notFound("Session not found")
	}
	s.audit(ctx, store.AuditLog{
		Actor:     actor.UserName,
		Action:    "session.proj_code",
		SessionID: &id,
		Details:   map[string]any{"proj_code": normalized},
	})
	item, err := s.getEffective(ctx, id)
	if err != nil {
		return nil, err
	}
	s.indexSession(item)
	return sessionView(item), nil
}

// SubmitOverride validates the admin decision and replaces the session's
// override. Nothing is written when validation fails.
func (s *Service) SubmitOverride(ctx context.Context, actor session.Data, sessionID string, input OverrideInput) (map[string]any, error) {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	status, err := risk.ParseStatus(input.Status)
	if err != nil {
		return nil, validationError(err.Error(), map[string]any{"allowed": risk.Statuses})
	}
	category, err := risk.ParseCategory(input.Category)
	if err != nil {
		return nil, validationError(err.Error(), map[string]any{"allowed": risk.Categories})
	}
	notes, err := risk.BuildNotes(status, input.Notes)
	if err != nil {
		return nil, validationError(err.Error(), nil)
	}
	if _, err := s.store.GetSession(ctx, id); err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Session not found")
		}
		return nil, err
	}

	saved, err := s.store.UpsertOverride(ctx, store.SessionOverride{
		SessionID: id,
		Override: risk.Override{
			Status:       status,
			Category:     category,
			Notes:        notes,
			OverriddenBy: actor.UserName,
			IsActive:     true,
		},
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.OverridesTotal.WithLabelValues(string(status)).Inc()
	}
	s.audit(ctx, store.AuditLog{
		Actor:     actor.UserName,
		Action:    "override.upsert",
		SessionID: &id,
		Details:   map[string]any{"status": status, "category": category},
	})

	item, err := s.getEffective(ctx, id)
	if err != nil {
		return nil, err
	}
	s.indexSession(item)
	view := sessionView(item)
	view["override"] = overrideView(saved)
	return view, nil
}

// DeactivateOverride soft-deletes the override so the AI fields apply again.
func (s *Service) DeactivateOverride(ctx context.Context, actor session.Data, sessionID string) (map[string]any, error) {
	id, err := parseSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	changed, err := s.store.DeactivateOverride(ctx, id, actor.UserName)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, notFound("Override not found")
	}
	s.audit(ctx, store.AuditLog{Actor: actor.UserName, Action: "override.deactivate", SessionID: &id})

	item, err := s.getEffective(ctx, id)
	if err != nil {
		return nil, err
	}
	s.indexSession(item)
	return sessionView(item), nil
}

func (s *Service) ConcernTargets() map[string]any {
	scopes := make([]map[string]any, 0, len(risk.Scopes))
	for _, scope := range risk.Scopes {
		scopes = append(scopes, map[string]any{
			"code":           scope,
			"label":          scope.Label(),
			"requires_teams": scope == risk.ScopeBackoffice,
		})
	}
	return map[string]any{"scopes": scopes, "teams": risk.BackofficeTeams}
}

func (s *Service) ListLookups(ctx context.Context, group string) (map[string]any, error) {
	normalized, err := pm.ParseGroup(group)
	if err != nil {
		return nil, validationError(err.Error(), map[string]any{"allowed": pm.Groups})
	}
	values, err := s.directory.ListLookups(ctx, normalized)
	if err != nil {
		return nil, err
	}
	return map[string]any{"group": normalized, "items": values}, nil
}

func (s *Service) ProjectManager(ctx context.Context, projectCode string) (map[string]any, error) {
	code := strings.ToUpper(strings.TrimSpace(projectCode))
	if code == "" {
		return nil, validationError("project code is required", nil)
	}
	manager, err := s.directory.ProjectManager(ctx, code)
	if err != nil {
		return nil, err
	}
	return map[string]any{"proj_code": code, "manager": manager}, nil
}

// CreateIssueLog writes the PM Backend issue log and the ISSUE override in a
// single transaction. An unresolvable project manager or lookup returns 422
// before anything is written.
func (s *Service) CreateIssueLog(ctx context.Context, actor session.Data, input IssueLogInput) (map[string]any, error) {
	prepared, err := s.prepareLog(ctx, actor, input, risk.StatusIssue, logGroups{
		category: pm.GroupIssueCategory,
		status:   pm.GroupIssueStatus,
	})
	if err != nil {
		return nil, err
	}

	entry, saved, err := s.store.CreateIssueLogWithOverride(ctx, prepared.entry, prepared.override, prepared.auditEntry("pm.issue.create"))
	if err != nil {
		return nil, err
	}
	return s.afterLog(ctx, "issue", prepared, entry.ID, saved)
}

func (s *Service) CreateRiskLog(ctx context.Context, actor session.Data, input RiskLogInput) (map[string]any, error) {
	prepared, err := s.prepareLog(ctx, actor, input.IssueLogInput, risk.StatusRisk, logGroups{
		category: pm.GroupRiskCategory,
		status:   pm.GroupRiskStatus,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.ImpactCode) == "" || strings.TrimSpace(input.ProbabilityCode) == "" {
		return nil, validationError("impact_code and probability_code are required", nil)
	}
	impact, err := s.lookup(ctx, pm.GroupRiskImpact, input.ImpactCode)
	if err != nil {
		return nil, err
	}
	probability, err := s.lookup(ctx, pm.GroupRiskProbability, input.ProbabilityCode)
	if err != nil {
		return nil, err
	}

	entry, saved, err := s.store.CreateRiskLogWithOverride(ctx, store.RiskLog{
		IssueLog:       prepared.entry,
		ImpactID:       impact.ID,
		ProbabilityID:  probability.ID,
		MitigationPlan: strings.TrimSpace(input.MitigationPlan),
	}, prepared.override, prepared.auditEntry("pm.risk.create"))
	if err != nil {
		return nil, err
	}
	return s.afterLog(ctx, "risk", prepared, entry.ID, saved)
}

type logGroups struct {
	category string
	status   string
}

type preparedLog struct {
	entry    store.IssueLog
	override store.SessionOverride
	manager  pm.Employee
	actor    string
}

func (p preparedLog) auditEntry(action string) store.AuditLog {
	sessionID := p.entry.SessionID
	return store.AuditLog{
		Actor:     p.actor,
		Action:    action,
		SessionID: &sessionID,
		Details: map[string]any{
			"proj_code":   p.entry.ProjectCode,
			"title":       p.entry.Title,
			"assignee_id": p.manager.ID,
		},
	}
}

func (s *Service) prepareLog(ctx context.Context, actor session.Data, input IssueLogInput, status risk.Status, groups logGroups) (preparedLog, error) {
	id, err := parseSessionID(input.SessionID)
	if err != nil {
		return preparedLog{}, err
	}
	title := strings.TrimSpace(input.Title)
	missing := make([]string, 0)
	for field, value := range map[string]string{
		"title":            title,
		"category_code":    input.CategoryCode,
		"status_code":      input.StatusCode,
		"environment_code": input.EnvironmentCode,
		"priority_code":    input.PriorityCode,
		"start_date":       input.StartDate,
		"due_date":         input.DueDate,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return preparedLog{}, validationError("missing required fields", map[string]any{"fields": missing})
	}
	startDate, err := parseDate(input.StartDate)
	if err != nil {
		return preparedLog{}, validationError("start_date must be YYYY-MM-DD or RFC 3339", nil)
	}
	dueDate, err := parseDate(input.DueDate)
	if err != nil {
		return preparedLog{}, validationError("due_date must be YYYY-MM-DD or RFC 3339", nil)
	}
	if dueDate.Before(startDate) {
		return preparedLog{}, validationError("due_date is before start_date", nil)
	}
	category, err := risk.ParseCategory(input.Category)
	if err != nil {
		return preparedLog{}, validationError(err.Error(), map[string]any{"allowed": risk.Categories})
	}
	notes, err := risk.BuildNotes(status, input.Notes)
	if err != nil {
		return preparedLog{}, validationError(err.Error(), nil)
	}

	chat, err := s.store.GetSession(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return preparedLog{}, notFound("Session not found")
		}
		return preparedLog{}, err
	}
	projectCode := strings.ToUpper(strings.TrimSpace(input.ProjectCode))
	if projectCode == "" && chat.ProjectCode != nil {
		projectCode = *chat.ProjectCode
	}
	if projectCode == "" {
		return preparedLog{}, validationError("proj_code is required when the session has none", nil)
	}

	manager, err := s.directory.ProjectManager(ctx, projectCode)
	if err != nil {
		if errors.Is(err, pm.ErrProjectNotFound) || errors.Is(err, pm.ErrProjectManagerNotFound) {
			return preparedLog{}, unresolved("No project manager found for project", map[string]any{"proj_code": projectCode})
		}
		return preparedLog{}, err
	}

	entry := store.IssueLog{
		SessionID:   id,
		ProjectCode: projectCode,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Component:   strings.TrimSpace(input.Component),
		AssigneeID:  manager.ID,
		ReportedBy:  actor.UserName,
		StartDate:   startDate,
		DueDate:     dueDate,
	}
	codes := []struct {
		group string
		code  string
		dest  *int64
	}{
		{groups.category, input.CategoryCode, &entry.CategoryID},
		{groups.status, input.StatusCode, &entry.StatusID},
		{pm.GroupEnvironment, input.EnvironmentCode, &entry.EnvironmentID},
		{pm.GroupPriority, input.PriorityCode, &entry.PriorityID},
	}
	for _, item := range codes {
		value, err := s.lookup(ctx, item.group, item.code)
		if err != nil {
			return preparedLog{}, err
		}
		*item.dest = value.ID
	}

	return preparedLog{
		entry: entry,
		override: store.SessionOverride{
			SessionID: id,
			Override: risk.Override{
				Status:       status,
				Category:     category,
				Notes:        notes,
				OverriddenBy: actor.UserName,
				IsActive:     true,
			},
		},
		manager: manager,
		actor:   actor.UserName,
	}, nil
}

func (s *Service) lookup(ctx context.Context, group, code string) (pm.LookupValue, error) {
	value, err := s.directory.Lookup(ctx, group, code)
	if err != nil {
		if errors.Is(err, pm.ErrLookupNotFound) {
			return pm.LookupValue{}, unresolved("Lookup value not found", map[string]any{"group": group, "code": code})
		}
		return pm.LookupValue{}, err
	}
	return value, nil
}

func (s *Service) afterLog(ctx context.Context, kind string, prepared preparedLog, logID int64, saved store.SessionOverride) (map[string]any, error) {
	if s.metrics != nil {
		s.metrics.PMLogsTotal.WithLabelValues(kind).Inc()
		s.metrics.OverridesTotal.WithLabelValues(string(saved.Status)).Inc()
	}
	s.logger.Info("pm log created",
		zap.String("kind", kind),
		zap.Int64("log_id", logID),
		zap.String("session_id", prepared.entry.SessionID),
		zap.String("proj_code", prepared.entry.ProjectCode),
	)
	item, err := s.getEffective(ctx, prepared.entry.SessionID)
	if err != nil {
		return nil, err
	}
	s.indexSession(item)
	view := sessionView(item)
	view["override"] = overrideView(saved)
	return map[string]any{
		"log": map[string]any{
			"kind":      kind,
			"id":        logID,
			"proj_code": prepared.entry.ProjectCode,
			"title":     prepared.entry.Title,
		},
		"assignee": prepared.manager,
		"session":  view,
	}, nil
}

// ExportExecutive renders the executive summary and optionally archives it.
func (s *Service) ExportExecutive(ctx context.Context, actor session.Data, input ExportInput) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	format, err := export.ParseFormat(input.Format)
	if err != nil {
		return nil, validationError(err.Error(), map[string]any{"allowed": []export.Format{export.FormatXLSX, export.FormatPDF}})
	}
	if input.Archive && !s.export.CanArchive() {
		return nil, validationError("archive storage is not configured", nil)
	}
	filter, truncated, err := s.sessionFilter(ctx, input.Filter)
	if err != nil {
		return nil, err
	}
	if truncated {
		s.logger.Warn("export search hit the result cap", zap.String("q", input.Filter.Query), zap.Int("cap", search.MaxHits))
	}

	result, err := s.export.Executive(ctx, filter, format)
	if err != nil {
		return nil, err
	}
	if input.Archive {
		if _, err := s.export.Archive(ctx, result); err != nil {
			return nil, err
		}
	}
	if s.metrics != nil {
		s.metrics.ExportsTotal.WithLabelValues(string(format)).Inc()
	}
	details := map[string]any{"format": format, "filename": result.Filename}
	if result.ArchiveKey != "" {
		details["archive_key"] = result.ArchiveKey
	}
	s.audit(ctx, store.AuditLog{Actor: actor.UserName, Action: "export.executive", Details: details})
	return result, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, sessionID string, limit int) (map[string]any, error) {
	filterID := ""
	if strings.TrimSpace(sessionID) != "" {
		id, err := parseSessionID(sessionID)
		if err != nil {
			return nil, err
		}
		filterID = id
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultAuditLimit
	}
	entries, err := s.store.ListAuditLogs(ctx, filterID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, map[string]any{
			"id":         entry.ID,
			"actor":      entry.Actor,
			"action":     entry.Action,
			"session_id": entry.SessionID,
			"details":    entry.Details,
			"created_at": entry.CreatedAt,
		})
	}
	return map[string]any{"items": items}, nil
}

// sessionFilter converts the raw list filters. A free-text query is resolved
// to at most search.MaxHits session IDs first; truncated reports that the cap
// was reached and total undercounts.
func (s *Service) sessionFilter(ctx context.Context, input SessionListInput) (filter store.SessionFilter, truncated bool, err error) {
	filter = store.SessionFilter{ProjectCode: strings.ToUpper(strings.TrimSpace(input.ProjectCode))}
	if strings.TrimSpace(input.Status) != "" {
		status, err := risk.ParseStatus(input.Status)
		if err != nil {
			return store.SessionFilter{}, false, validationError(err.Error(), map[string]any{"allowed": risk.Statuses})
		}
		filter.Status = &status
	}
	category, err := risk.ParseCategory(input.Category)
	if err != nil {
		return store.SessionFilter{}, false, validationError(err.Error(), map[string]any{"allowed": risk.Categories})
	}
	filter.Category = category

	switch strings.ToLower(strings.TrimSpace(input.HasOverride)) {
	case "":
	case "true", "1", "yes":
		value := true
		filter.HasOverride = &value
	case "false", "0", "no":
		value := false
		filter.HasOverride = &value
	default:
		return store.SessionFilter{}, false, validationError("has_override must be true or false", nil)
	}

	if input.Limit < 0 || input.Offset < 0 {
		return store.SessionFilter{}, false, validationError("limit and offset must not be negative", nil)
	}
	filter.Limit = input.Limit
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	filter.Offset = input.Offset

	if text := strings.TrimSpace(input.Query); text != "" && s.search != nil {
		ids, err := s.search.SessionIDs(ctx, search.Query{Text: text, Limit: search.MaxHits})
		if err != nil {
			return store.SessionFilter{}, false, fmt.Errorf("search sessions: %w", err)
		}
		filter.IDs = ids
		truncated = len(ids) >= search.MaxHits
	}
	return filter, truncated, nil
}

func (s *Service) getEffective(ctx context.Context, id string) (store.EffectiveSession, error) {
	item, err := s.store.GetEffectiveSession(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return store.EffectiveSession{}, notFound("Session not found")
		}
		return store.EffectiveSession{}, err
	}
	return item, nil
}

func (s *Service) indexSession(item store.EffectiveSession) {
	if s.search == nil {
		return
	}
	s.search.IndexSession(sessionRecord(item))
}

// audit writes an audit row. A failure is logged and does not fail the
// request that already committed.
func (s *Service) audit(ctx context.Context, entry store.AuditLog) {
	if err := s.store.InsertAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

func parseSessionID(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", validationError("session id is required", nil)
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", validationError("session id must be a UUID", map[string]any{"session_id": value})
	}
	return parsed.String(), nil
}

func parseDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if parsed, err := time.Parse("2006-01-02", trimmed); err == nil {
		return parsed, nil
	}
	return time.Parse(time.RFC3339, trimmed)
}

func concernSubject(item store.EffectiveSession) string {
	if item.ProjectCode != nil {
		return "Project concern: " + *item.ProjectCode
	}
	return "Project concern"
}
