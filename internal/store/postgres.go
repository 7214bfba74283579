package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"nongsaijai/api/internal/risk"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const sessionColumns = `id::text, owner_id, owner_name, proj_code, status, category, summary, risk_scores::text, admin_opened, classified_at, created_at, updated_at`

func scanSession(row rowScanner, extra ...any) (ChatSession, error) {
	var (
		item         ChatSession
		projectCode  sql.NullString
		status       sql.NullString
		category     sql.NullString
		summary      sql.NullString
		scores       sql.NullString
		classifiedAt sql.NullTime
	)
	dest := []any{
		&item.ID,
		&item.OwnerID,
		&item.OwnerName,
		&projectCode,
		&status,
		&category,
		&summary,
		&scores,
		&item.AdminOpened,
		&classifiedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return ChatSession{}, err
	}

	item.ProjectCode = nullableString(projectCode)
	item.Summary = nullableString(summary)
	item.Status = nullableStatus(status)
	item.Category = nullableCategory(category)
	if classifiedAt.Valid {
		at := classifiedAt.Time
		item.ClassifiedAt = &at
	}
	if scores.Valid {
		parsed, err := risk.ParseRiskScores([]byte(scores.String))
		if err != nil {
			return ChatSession{}, fmt.Errorf("decode risk scores: %w", err)
		}
		item.RiskScores = parsed
	}
	return item, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, item ChatSession) (ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_sessions (id, owner_id, owner_name, proj_code)
		VALUES ($1, $2, $3, $4)
		RETURNING `+sessionColumns,
		item.ID, item.OwnerID, item.OwnerName, nullString(item.ProjectCode))
	created, err := scanSession(row)
	if err != nil {
		return ChatSession{}, fmt.Errorf("create session: %w", err)
	}
	return created, nil
}

// EnsureSession creates the session on first use and returns the stored row.
// The caller compares OwnerID to enforce ownership.
func (s *PostgresStore) EnsureSession(ctx context.Context, id, ownerID, ownerName string) (ChatSession, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, owner_id, owner_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, id, ownerID, ownerName); err != nil {
		return ChatSession{}, fmt.Errorf("ensure session: %w", err)
	}
	return s.GetSession(ctx, id)
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id=$1`, id)
	return scanSession(row)
}

const effectiveColumns = `id::text, owner_id, owner_name, proj_code, ai_status, ai_category, summary, risk_scores::text, admin_opened, classified_at, created_at, updated_at,
	effective_status, effective_category, has_override, overridden_at, COALESCE(overridden_by, ''), override_notes`

func scanEffective(row rowScanner) (EffectiveSession, error) {
	var (
		item              EffectiveSession
		effectiveStatus   sql.NullString
		effectiveCategory sql.NullString
		overriddenAt      sql.NullTime
		notes             sql.NullString
	)
	session, err := scanSession(row,
		&effectiveStatus,
		&effectiveCategory,
		&item.Effective.HasOverride,
		&overriddenAt,
		&item.OverriddenBy,
		&notes,
	)
	if err != nil {
		return EffectiveSession{}, err
	}
	item.ChatSession = session
	item.Effective.Status = nullableStatus(effectiveStatus)
	item.Effective.Category = nullableCategory(effectiveCategory)
	item.Effective.Summary = session.AIFields().Summary
	if overriddenAt.Valid {
		at := overriddenAt.Time
		item.Effective.OverriddenAt = &at
	}
	if notes.Valid && item.Effective.Status != nil {
		parsed, err := risk.ParseStoredNotes(*item.Effective.Status, notes.String)
		if err != nil {
			return EffectiveSession{}, fmt.Errorf("decode override notes: %w", err)
		}
		item.OverrideNotes = parsed
	}
	return item, nil
}

func (s *PostgresStore) GetEffectiveSession(ctx context.Context, id string) (EffectiveSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+effectiveColumns+` FROM v_effective_sessions WHERE id=$1`, id)
	return scanEffective(row)
}

func effectiveWhere(filter SessionFilter) (string, []any) {
	clauses := []string{"TRUE"}
	args := make([]any, 0, 5)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != nil {
		add("effective_status = $%d", string(*filter.Status))
	}
	if filter.Category != nil {
		add("effective_category = $%d", string(*filter.Category))
	}
	if code := strings.TrimSpace(filter.ProjectCode); code != "" {
		add("proj_code = $%d", code)
	}
	if filter.HasOverride != nil {
		add("has_override = $%d", *filter.HasOverride)
	}
	if filter.IDs != nil {
		add("id::text = ANY($%d::text[])", filter.IDs)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) ListEffectiveSessions(ctx context.Context, filter SessionFilter) ([]EffectiveSession, error) {
	where, args := effectiveWhere(filter)
	query := `SELECT ` + effectiveColumns + ` FROM v_effective_sessions` + where + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list effective sessions: %w", err)
	}
	defer rows.Close()

	items := make([]EffectiveSession, 0)
	for rows.Next() {
		item, err := scanEffective(rows)
		if err != nil {
			return nil, fmt.Errorf("scan effective session: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate effective sessions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountEffectiveSessions(ctx context.Context, filter SessionFilter) (int, error) {
	where, args := effectiveWhere(filter)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM v_effective_sessions`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count effective sessions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) MarkAdminOpened(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET admin_opened=TRUE WHERE id=$1 AND NOT admin_opened`, id)
	if err != nil {
		return fmt.Errorf("mark admin opened: %w", err)
	}
	return nil
}

// UpdateProjectCode sets or clears (nil) the project code. It reports false
// when the session does not exist.
func (s *PostgresStore) UpdateProjectCode(ctx context.Context, id string, code *string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions SET proj_code=$2, updated_at=NOW() WHERE id=$1
	`, id, nullString(code))
	if err != nil {
		return false, fmt.Errorf("update project code: %w", err)
	}
	return affected(result, "update project code")
}

func (s *PostgresStore) UpdateClassification(ctx context.Context, id string, c Classification) (bool, error) {
	var scores any
	if c.RiskScores != nil {
		encoded, err := json.Marshal(c.RiskScores)
		if err != nil {
			return false, fmt.Errorf("encode risk scores: %w", err)
		}
		scores = string(encoded)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions
		SET status=$2, category=$3, summary=$4, risk_scores=$5::jsonb, classified_at=NOW(), updated_at=NOW()
		WHERE id=$1
	`, id, nullStatus(c.Status), nullCategory(c.Category), nullString(c.Summary), scores)
	if err != nil {
		return false, fmt.Errorf("update classification: %w", err)
	}
	return affected(result, "update classification")
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_messages (session_id, role, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, msg.SessionID, msg.Role, msg.Content).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET updated_at=NOW() WHERE id=$1`, msg.SessionID); err != nil {
		return Message{}, fmt.Errorf("touch session: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id::text, role, content, created_at
		FROM chat_messages
		WHERE session_id=$1
		ORDER BY id ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.SessionID, &item.Role, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages WHERE session_id=$1`, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// UpsertOverride replaces the session's override and reactivates it.
func (s *PostgresStore) UpsertOverride(ctx context.Context, override SessionOverride) (SessionOverride, error) {
	return upsertOverride(ctx, s.db, override)
}

func upsertOverride(ctx context.Context, q queryer, override SessionOverride) (SessionOverride, error) {
	var notes any
	if override.Notes != nil {
		encoded, err := json.Marshal(override.Notes)
		if err != nil {
			return SessionOverride{}, fmt.Errorf("encode override notes: %w", err)
		}
		notes = string(encoded)
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO session_overrides (session_id, override_status, override_category, override_notes, overridden_by, overridden_at, is_active)
		VALUES ($1, $2, $3, $4, $5, NOW(), TRUE)
		ON CONFLICT (session_id) DO UPDATE SET
			override_status=EXCLUDED.override_status,
			override_category=EXCLUDED.override_category,
			override_notes=EXCLUDED.override_notes,
			overridden_by=EXCLUDED.overridden_by,
			overridden_at=EXCLUDED.overridden_at,
			is_active=TRUE
		RETURNING overridden_at
	`, override.SessionID, string(override.Status), nullCategory(override.Category), notes, override.OverriddenBy).Scan(&override.OverriddenAt)
	if err != nil {
		return SessionOverride{}, fmt.Errorf("upsert override: %w", err)
	}
	override.IsActive = true
	return override, nil
}

// DeactivateOverride soft-deletes the active override. It reports false when
// there was nothing active.
func (s *PostgresStore) DeactivateOverride(ctx context.Context, sessionID, actor string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE session_overrides
		SET is_active=FALSE, overridden_by=$2, overridden_at=NOW()
		WHERE session_id=$1 AND is_active
	`, sessionID, actor)
	if err != nil {
		return false, fmt.Errorf("deactivate override: %w", err)
	}
	return affected(result, "deactivate override")
}

func (s *PostgresStore) GetOverride(ctx context.Context, sessionID string) (SessionOverride, error) {
	var (
		item     SessionOverride
		status   string
		category sql.NullString
		notes    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id::text, override_status, override_category, override_notes, overridden_by, overridden_at, is_active
		FROM session_overrides
		WHERE session_id=$1
	`, sessionID).Scan(&item.SessionID, &status, &category, &notes, &item.OverriddenBy, &item.OverriddenAt, &item.IsActive)
	if err != nil {
		return SessionOverride{}, err
	}
	item.Status = risk.Status(status)
	item.Category = nullableCategory(category)
	if notes.Valid {
		parsed, err := risk.ParseStoredNotes(item.Status, notes.String)
		if err != nil {
			return SessionOverride{}, fmt.Errorf("decode override notes: %w", err)
		}
		item.Notes = parsed
	}
	return item, nil
}

func (s *PostgresStore) InsertAuditLog(ctx context.Context, entry AuditLog) error {
	return insertAuditLog(ctx, s.db, entry)
}

func insertAuditLog(ctx context.Context, q queryer, entry AuditLog) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO ai_admin_audit_logs (actor, action, session_id, details)
		VALUES ($1, $2, $3, $4::jsonb)
	`, entry.Actor, entry.Action, nullString(entry.SessionID), string(encoded)); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditLogs(ctx context.Context, sessionID string, limit int) ([]AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, action, session_id::text, details::text, created_at
		FROM ai_admin_audit_logs
		WHERE ($1::text = '' OR session_id::text = $1::text)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	items := make([]AuditLog, 0)
	for rows.Next() {
		var (
			item      AuditLog
			sessionID sql.NullString
			details   string
		)
		if err := rows.Scan(&item.ID, &item.Actor, &item.Action, &sessionID, &details, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		item.SessionID = nullableString(sessionID)
		if err := json.Unmarshal([]byte(details), &item.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return items, nil
}

// CreateIssueLogWithOverride writes the PM issue log, the ISSUE override that
// references it and the audit entry in one transaction.
func (s *PostgresStore) CreateIssueLogWithOverride(ctx context.Context, entry IssueLog, override SessionOverride, audit AuditLog) (IssueLog, SessionOverride, error) {
	var saved SessionOverride
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO pm.issue_logs (session_id, project_code, title, description, category_id, status_id, environment_id, priority_id, component, assignee_id, reported_by, start_date, due_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id, created_at
		`, entry.SessionID, entry.ProjectCode, entry.Title, entry.Description, entry.CategoryID, entry.StatusID, entry.EnvironmentID, entry.PriorityID,
			entry.Component, entry.AssigneeID, entry.ReportedBy, entry.StartDate, entry.DueDate).Scan(&entry.ID, &entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert issue log: %w", err)
		}
		saved, err = linkOverride(ctx, tx, override, risk.StatusIssue, "issue", entry.ID, audit)
		return err
	})
	if err != nil {
		return IssueLog{}, SessionOverride{}, err
	}
	return entry, saved, nil
}

// CreateRiskLogWithOverride is the risk-log counterpart of
// CreateIssueLogWithOverride.
func (s *PostgresStore) CreateRiskLogWithOverride(ctx context.Context, entry RiskLog, override SessionOverride, audit AuditLog) (RiskLog, SessionOverride, error) {
	var saved SessionOverride
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO pm.risk_logs (session_id, project_code, title, description, category_id, status_id, environment_id, priority_id, impact_id, probability_id, component, mitigation_plan, assignee_id, reported_by, start_date, due_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id, created_at
		`, entry.SessionID, entry.ProjectCode, entry.Title, entry.Description, entry.CategoryID, entry.StatusID, entry.EnvironmentID, entry.PriorityID,
			entry.ImpactID, entry.ProbabilityID, entry.Component, entry.MitigationPlan, entry.AssigneeID, entry.ReportedBy, entry.StartDate, entry.DueDate).Scan(&entry.ID, &entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert risk log: %w", err)
		}
		saved, err = linkOverride(ctx, tx, override, risk.StatusRisk, "risk", entry.ID, audit)
		return err
	})
	if err != nil {
		return RiskLog{}, SessionOverride{}, err
	}
	return entry, saved, nil
}

func linkOverride(ctx context.Context, tx *sql.Tx, override SessionOverride, status risk.Status, kind string, logID int64, audit AuditLog) (SessionOverride, error) {
	override.Status = status
	override.Notes = risk.WithLogReference(override.Notes, status, kind, logID)
	saved, err := upsertOverride(ctx, tx, override)
	if err != nil {
		return SessionOverride{}, err
	}
	if audit.Details == nil {
		audit.Details = map[string]any{}
	}
	audit.Details["pm_log_kind"] = kind
	audit.Details["pm_log_id"] = logID
	if err := insertAuditLog(ctx, tx, audit); err != nil {
		return SessionOverride{}, err
	}
	return saved, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func affected(result sql.Result, op string) (bool, error) {
	count, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows: %w", op, err)
	}
	return count > 0, nil
}

func nullString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullStatus(value *risk.Status) any {
	if value == nil {
		return nil
	}
	return string(*value)
}

func nullCategory(value *risk.Category) any {
	if value == nil {
		return nil
	}
	return string(*value)
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullableStatus(value sql.NullString) *risk.Status {
	if !value.Valid || value.String == "" {
		return nil
	}
	status := risk.Status(value.String)
	if !status.Valid() {
		return nil
	}
	return &status
}

func nullableCategory(value sql.NullString) *risk.Category {
	if !value.Valid || value.String == "" {
		return nil
	}
	category := risk.Category(value.String)
	return &category
}

// IsNotFound reports whether err means the addressed row is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
