// Package risk holds the classification domain: statuses, categories, the
// effective-state resolver, override notes and concern targets.
package risk

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusIssue   Status = "ISSUE"
	StatusRisk    Status = "RISK"
	StatusConcern Status = "CONCERN"
	StatusNonRisk Status = "NON_RISK"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusIssue, StatusRisk, StatusConcern, StatusNonRisk}

type Category string

const (
	CategoryPeople    Category = "People"
	CategoryProcess   Category = "Process"
	CategoryQuality   Category = "Quality"
	CategoryFinancial Category = "Financial"
	CategoryScope     Category = "Scope"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryPeople, CategoryProcess, CategoryQuality, CategoryFinancial, CategoryScope}

var (
	ErrUnknownStatus   = errors.New("unknown status")
	ErrUnknownCategory = errors.New("unknown category")
)

func ParseStatus(value string) (Status, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	for _, status := range Statuses {
		if string(status) == normalized {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, value)
}

// ParseCategory returns the canonical category. An empty value is not an
// error: it means the caller did not set a category.
func ParseCategory(value string) (*Category, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	for _, category := range Categories {
		if strings.EqualFold(string(category), trimmed) {
			c := category
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, value)
}

// Valid reports whether s is one of the four canonical statuses.
func (s Status) Valid() bool {
	for _, status := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}
