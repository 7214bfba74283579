// Package export renders the executive summary of classified sessions as a
// spreadsheet or PDF and optionally archives it to object storage.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"nongsaijai/api/internal/risk"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

const (
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimePDF  = "application/pdf"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates no headless Chrome is installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)

// ParseFormat defaults to xlsx when value is empty.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

// Row is one session line of the executive summary.
type Row struct {
	SessionID    string
	ProjectCode  string
	OwnerName    string
	Status       string
	Category     string
	Severity     risk.SeverityLevel
	MaxScore     *float64
	Summary      string
	HasOverride  bool
	OverriddenAt *time.Time
	CreatedAt    time.Time
}

// SeverityLabel renders an empty severity as "-".
func (r Row) SeverityLabel() string {
	if r.Severity == risk.SeverityNone {
		return "-"
	}
	return string(r.Severity)
}

// Result contains the export output
type Result struct {
	Data        []byte
	Filename    string
	MimeType    string
	ArchiveKey  string
	DownloadURL string
}
