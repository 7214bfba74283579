package store

import (
	"database/sql"
	"time"

	"nongsaijai/api/internal/risk"
)

// ErrNotFound is returned when a row addressed by key does not exist.
var ErrNotFound = sql.ErrNoRows

// ChatSession is a conversation with the AI fields written by the classifier.
type ChatSession struct {
	ID           string
	OwnerID      string
	OwnerName    string
	ProjectCode  *string
	Status       *risk.Status
	Category     *risk.Category
	Summary      *string
	RiskScores   risk.RiskScores
	AdminOpened  bool
	ClassifiedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s ChatSession) AIFields() risk.AIFields {
	fields := risk.AIFields{Status: s.Status, Category: s.Category}
	if s.Summary != nil {
		fields.Summary = *s.Summary
	}
	return fields
}

// EffectiveSession is a row of v_effective_sessions.
type EffectiveSession struct {
	ChatSession
	Effective     risk.Effective
	OverriddenBy  string
	OverrideNotes *risk.Notes
}

type Message struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// SessionOverride is the single override row of a session.
type SessionOverride struct {
	SessionID string
	risk.Override
}

// Classification is the payload the classifier pushes for a session.
type Classification struct {
	Status     *risk.Status
	Category   *risk.Category
	Summary    *string
	RiskScores risk.RiskScores
}

// SessionFilter narrows the effective session list. IDs, when non-nil,
// restricts the result to those sessions (search hits).
type SessionFilter struct {
	Status      *risk.Status
	Category    *risk.Category
	ProjectCode string
	HasOverride *bool
	IDs         []string
	Limit       int
	Offset      int
}

type AuditLog struct {
	ID        int64
	Actor     string
	Action    string
	SessionID *string
	Details   map[string]any
	CreatedAt time.Time
}

// IssueLog is a PM Backend issue entry. Lookup fields hold pm.lookups IDs.
type IssueLog struct {
	ID            int64
	SessionID     string
	ProjectCode   string
	Title         string
	Description   string
	CategoryID    int64
	StatusID      int64
	EnvironmentID int64
	PriorityID    int64
	Component     string
	AssigneeID    int64
	ReportedBy    string
	StartDate     time.Time
	DueDate       time.Time
	CreatedAt     time.Time
}

// RiskLog is a PM Backend risk entry.
type RiskLog struct {
	IssueLog
	ImpactID       int64
	ProbabilityID  int64
	MitigationPlan string
}
