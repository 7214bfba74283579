package export

import (
	"context"
	"fmt"
	"time"

	"nongsaijai/api/internal/risk"
	"nongsaijai/api/internal/store"
)

// DataStore is the read side the export needs.
type DataStore interface {
	ListEffectiveSessions(ctx context.Context, filter store.SessionFilter) ([]store.EffectiveSession, error)
}

// Archiver stores a rendered export and returns its object key.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Presigner is implemented by archives that can hand out download links.
type Presigner interface {
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// DownloadLinkTTL bounds how long an archived export link stays valid.
const DownloadLinkTTL = 24 * time.Hour

type pdfRenderer func(ctx context.Context, html string) ([]byte, error)

// Service builds executive summaries.
type Service struct {
	store   DataStore
	archive Archiver
	now     func() time.Time
	pdf     pdfRenderer
}

// NewService creates the export service. archive may be nil.
func NewService(store DataStore, archive Archiver) *Service {
	return &Service{
		store:   store,
		archive: archive,
		now:     time.Now,
		pdf:     renderPDF,
	}
}

// CanArchive reports whether an object store is configured.
func (s *Service) CanArchive() bool {
	return s.archive != nil
}

// Rows loads the effective sessions matching filter as summary rows.
func (s *Service) Rows(ctx context.Context, filter store.SessionFilter) ([]Row, error) {
	sessions, err := s.store.ListEffectiveSessions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	rows := make([]Row, 0, len(sessions))
	for _, item := range sessions {
		rows = append(rows, toRow(item))
	}
	return rows, nil
}

func toRow(item store.EffectiveSession) Row {
	row := Row{
		SessionID:    item.ID,
		OwnerName:    item.OwnerName,
		Severity:     risk.Severity(item.RiskScores),
		Summary:      item.Effective.Summary,
		HasOverride:  item.Effective.HasOverride,
		OverriddenAt: item.Effective.OverriddenAt,
		CreatedAt:    item.CreatedAt,
	}
	if item.ProjectCode != nil {
		row.ProjectCode = *item.ProjectCode
	}
	if item.Effective.Status != nil {
		row.Status = string(*item.Effective.Status)
	}
	if item.Effective.Category != nil {
		row.Category = string(*item.Effective.Category)
	}
	if max, ok := item.RiskScores.MaxScore(); ok {
		row.MaxScore = &max
	}
	return row
}

// Executive renders the summary in the requested format.
func (s *Service) Executive(ctx context.Context, filter store.SessionFilter, format Format) (*Result, error) {
	rows, err := s.Rows(ctx, filter)
	if err != nil {
		return nil, err
	}
	generatedAt := s.now()
	base := "executive-summary-" + generatedAt.Format("20060102")

	switch format {
	case FormatXLSX:
		data, err := buildWorkbook(rows)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: base + ".xlsx", MimeType: mimeXLSX}, nil
	case FormatPDF:
		html, err := RenderExecutiveHTML(ExecutiveData{GeneratedAt: generatedAt, Rows: rows, Counts: countByStatus(rows)})
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: base + ".pdf", MimeType: mimePDF}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Archive uploads the result and records the object key on it.
func (s *Service) Archive(ctx context.Context, result *Result) (string, error) {
	if s.archive == nil {
		return "", fmt.Errorf("archive is not configured")
	}
	now := s.now().UTC()
	key := fmt.Sprintf("executive/%s/%d-%s", now.Format("2006/01"), now.Unix(), result.Filename)
	stored, err := s.archive.Put(ctx, key, result.Data, result.MimeType)
	if err != nil {
		return "", fmt.Errorf("archive export: %w", err)
	}
	result.ArchiveKey = stored
	if presigner, ok := s.archive.(Presigner); ok {
		link, err := presigner.PresignedURL(ctx, stored, DownloadLinkTTL)
		if err != nil {
			return "", fmt.Errorf("archive link: %w", err)
		}
		result.DownloadURL = link
	}
	return stored, nil
}

// StatusCount is one line of the per-status breakdown.
type StatusCount struct {
	Status string
	Count  int
}

// countByStatus counts rows per effective status in canonical order, with
// unclassified sessions last.
func countByStatus(rows []Row) []StatusCount {
	counts := map[string]int{}
	for _, row := range rows {
		counts[row.Status]++
	}
	out := make([]StatusCount, 0, len(risk.Statuses)+1)
	for _, status := range risk.Statuses {
		out = append(out, StatusCount{Status: string(status), Count: counts[string(status)]})
	}
	if n := counts[""]; n > 0 {
		out = append(out, StatusCount{Status: "Unclassified", Count: n})
	}
	return out
}
