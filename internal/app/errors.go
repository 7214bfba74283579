package app

import (
	"errors"
	"fmt"
	"net/http"

	"nongsaijai/api/internal/auth"
	"nongsaijai/api/internal/export"
	"nongsaijai/api/internal/pm"
	"nongsaijai/api/internal/risk"
	"nongsaijai/api/internal/session"
	"nongsaijai/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func unresolved(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "UNRESOLVED_LOOKUP", message, details)
}

var (
	errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	errForbidden    = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
)

// mapError turns service and adapter errors into the HTTP error envelope.
// Unknown errors become 500 and the caller logs them.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case store.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, pm.ErrProjectNotFound), errors.Is(err, pm.ErrProjectManagerNotFound), errors.Is(err, pm.ErrLookupNotFound):
		return http.StatusUnprocessableEntity, "UNRESOLVED_LOOKUP", err.Error(), nil
	case errors.Is(err, pm.ErrUnknownGroup),
		errors.Is(err, risk.ErrUnknownStatus),
		errors.Is(err, risk.ErrUnknownCategory),
		errors.Is(err, risk.ErrInvalidNotes),
		errors.Is(err, risk.ErrUnknownScope),
		errors.Is(err, risk.ErrUnknownTeam),
		errors.Is(err, risk.ErrTeamRequired),
		errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
