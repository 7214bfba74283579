// Package pm reads the PM Backend directory: projects, their managers and
// the lookup tables that issue and risk logs reference.
package pm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrProjectNotFound        = errors.New("project not found")
	ErrProjectManagerNotFound = errors.New("project has no resolvable project manager")
	ErrLookupNotFound         = errors.New("lookup value not found")
	ErrUnknownGroup           = errors.New("unknown lookup group")
)

// Lookup groups in pm.lookups.
const (
	GroupIssueCategory   = "ISSUE_CATEGORY"
	GroupIssueStatus     = "ISSUE_STATUS"
	GroupRiskCategory    = "RISK_CATEGORY"
	GroupRiskStatus      = "RISK_STATUS"
	GroupEnvironment     = "ENVIRONMENT"
	GroupPriority        = "PRIORITY"
	GroupRiskImpact      = "RISK_IMPACT"
	GroupRiskProbability = "RISK_PROBABILITY"
)

var Groups = []string{
	GroupIssueCategory,
	GroupIssueStatus,
	GroupRiskCategory,
	GroupRiskStatus,
	GroupEnvironment,
	GroupPriority,
	GroupRiskImpact,
	GroupRiskProbability,
}

type Employee struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

type Project struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	PMEmployeeID *int64 `json:"pm_employee_id"`
}

type LookupValue struct {
	ID        int64  `json:"id"`
	Group     string `json:"group_name"`
	Code      string `json:"code"`
	Label     string `json:"label"`
	SortOrder int    `json:"sort_order"`
}

// Directory resolves PM Backend reference data.
type Directory interface {
	ProjectManager(ctx context.Context, projectCode string) (Employee, error)
	Lookup(ctx context.Context, group, code string) (LookupValue, error)
	ListLookups(ctx context.Context, group string) ([]LookupValue, error)
}

// ParseGroup normalizes a lookup group name.
func ParseGroup(value string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	for _, group := range Groups {
		if group == normalized {
			return group, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGroup, value)
}

func findLookup(values []LookupValue, group, code string) (LookupValue, error) {
	trimmed := strings.TrimSpace(code)
	for _, value := range values {
		if strings.EqualFold(value.Code, trimmed) {
			return value, nil
		}
	}
	return LookupValue{}, fmt.Errorf("%w: %s/%s", ErrLookupNotFound, group, code)
}
