package risk

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scope is who a CONCERN is distributed to.
type Scope string

const (
	ScopePM          Scope = "PM"
	ScopeProjectTeam Scope = "PROJECT_TEAM"
	ScopeBackoffice  Scope = "BACKOFFICE"
	ScopeManagement  Scope = "MANAGEMENT"
	ScopeCustomer    Scope = "CUSTOMER"
	ScopeVendor      Scope = "VENDOR"
)

var scopeLabels = map[Scope]string{
	ScopePM:          "PM",
	ScopeProjectTeam: "Project Team",
	ScopeBackoffice:  "Backoffice",
	ScopeManagement:  "Management",
	ScopeCustomer:    "Customer",
	ScopeVendor:      "Vendor",
}

// Scopes lists every scope in display order.
var Scopes = []Scope{ScopePM, ScopeProjectTeam, ScopeBackoffice, ScopeManagement, ScopeCustomer, ScopeVendor}

// Team is a backoffice team with a fixed group mailbox.
type Team struct {
	Code      string `json:"code"`
	Label     string `json:"label"`
	GroupMail string `json:"group_mail"`
}

// BackofficeTeams is the static distribution table for BACKOFFICE concerns.
var BackofficeTeams = []Team{
	{Code: "LEGAL", Label: "Legal", GroupMail: "legal@mfec.co.th"},
	{Code: "HR", Label: "Human Resources", GroupMail: "hr@mfec.co.th"},
	{Code: "FINANCE", Label: "Finance", GroupMail: "finance@mfec.co.th"},
	{Code: "PROCUREMENT", Label: "Procurement", GroupMail: "procurement@mfec.co.th"},
	{Code: "IT", Label: "IT Support", GroupMail: "itsupport@mfec.co.th"},
}

// Target is one resolved recipient of a CONCERN.
type Target struct {
	Scope     Scope  `json:"scope"`
	TeamCode  string `json:"team_code,omitempty"`
	TeamLabel string `json:"team_label,omitempty"`
	GroupMail string `json:"group_mail,omitempty"`
}

var (
	ErrUnknownScope = errors.New("unknown concern scope")
	ErrUnknownTeam  = errors.New("unknown backoffice team")
	ErrTeamRequired = errors.New("backoffice scope requires at least one team")
)

func ParseScope(value string) (Scope, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	for _, scope := range Scopes {
		if string(scope) == normalized {
			return scope, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScope, value)
}

func (s Scope) Label() string {
	return scopeLabels[s]
}

// LookupTeam finds a backoffice team by code, case-insensitively.
func LookupTeam(code string) (Team, bool) {
	trimmed := strings.TrimSpace(code)
	for _, team := range BackofficeTeams {
		if strings.EqualFold(team.Code, trimmed) {
			return team, true
		}
	}
	return Team{}, false
}

// ResolveTargets expands a scope and team codes into the persisted target
// list. Teams only matter for BACKOFFICE; duplicates collapse and the
// caller's order is kept.
func ResolveTargets(scope Scope, teamCodes []string) ([]Target, error) {
	if _, ok := scopeLabels[scope]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}
	if scope != ScopeBackoffice {
		return []Target{{Scope: scope}}, nil
	}

	targets := make([]Target, 0, len(teamCodes))
	seen := make(map[string]struct{}, len(teamCodes))
	for _, code := range teamCodes {
		team, ok := LookupTeam(code)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTeam, code)
		}
		if _, dup := seen[team.Code]; dup {
			continue
		}
		seen[team.Code] = struct{}{}
		targets = append(targets, Target{
			Scope:     scope,
			TeamCode:  team.Code,
			TeamLabel: team.Label,
			GroupMail: team.GroupMail,
		})
	}
	if len(targets) == 0 {
		return nil, ErrTeamRequired
	}
	return targets, nil
}

// ComposeURL builds a mailto link addressed to every target with a group
// mailbox. It returns "" when no target has one. Nothing is sent.
func ComposeURL(targets []Target, subject, body string) string {
	recipients := make([]string, 0, len(targets))
	for _, target := range targets {
		if target.GroupMail != "" {
			recipients = append(recipients, target.GroupMail)
		}
	}
	if len(recipients) == 0 {
		return ""
	}

	query := url.Values{}
	if subject != "" {
		query.Set("subject", subject)
	}
	if body != "" {
		query.Set("body", body)
	}
	link := "mailto:" + strings.Join(recipients, ",")
	if encoded := query.Encode(); encoded != "" {
		link += "?" + strings.ReplaceAll(encoded, "+", "%20")
	}
	return link
}
