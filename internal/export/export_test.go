package export

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"nongsaijai/api/internal/risk"
	"nongsaijai/api/internal/store"
)

type fakeStore struct {
	sessions []store.EffectiveSession
	filter   store.SessionFilter
	err      error
}

func (f *fakeStore) ListEffectiveSessions(_ context.Context, filter store.SessionFilter) ([]store.EffectiveSession, error) {
	f.filter = filter
	return f.sessions, f.err
}

type fakeArchive struct {
	key         string
	data        []byte
	contentType string
}

func (f *fakeArchive) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	f.key, f.data, f.contentType = key, data, contentType
	return key, nil
}

type presigningArchive struct {
	fakeArchive
	expiry time.Duration
}

func (p *presigningArchive) PresignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	p.expiry = expiry
	return "https://minio.local/exports/" + key + "?X-Amz-Expires=86400", nil
}

func ptr[T any](v T) *T { return &v }

func sampleSessions() []store.EffectiveSession {
	created := time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC)
	overridden := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	return []store.EffectiveSession{
		{
			ChatSession: store.ChatSession{
				ID:          "3f7c1f0e-1111-4a2b-9c7d-000000000001",
				OwnerName:   "Somchai",
				ProjectCode: ptr("PRJ-001"),
				RiskScores:  risk.RiskScores{"schedule": {Score: 4.5}, "budget": {Score: 2}},
				CreatedAt:   created,
			},
			Effective: risk.Effective{
				Status:       ptr(risk.StatusIssue),
				Category:     ptr(risk.CategoryScope),
				Summary:      "Vendor delivery slipped two sprints",
				HasOverride:  true,
				OverriddenAt: &overridden,
			},
		},
		{
			ChatSession: store.ChatSession{
				ID:         "3f7c1f0e-1111-4a2b-9c7d-000000000002",
				OwnerName:  "Malee",
				RiskScores: risk.RiskScores{"people": {Score: 3}},
				CreatedAt:  created,
			},
			Effective: risk.Effective{
				Status:  ptr(risk.StatusConcern),
				Summary: "Team morale",
			},
		},
		{
			ChatSession: store.ChatSession{
				ID:        "3f7c1f0e-1111-4a2b-9c7d-000000000003",
				OwnerName: "Anan",
				CreatedAt: created,
			},
			Effective: risk.Effective{Summary: "not yet classified"},
		},
	}
}

func newTestService(st DataStore, archive Archiver) *Service {
	svc := NewService(st, archive)
	svc.now = func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatXLSX, false},
		{"XLSX", FormatXLSX, false},
		{" pdf ", FormatPDF, false},
		{"docx", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("ParseFormat(%q) error = %v, want ErrUnsupportedFormat", tt.input, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v, want %q", tt.input, got, err, tt.want)
		}
	}
}

func TestRowsDeriveSeverityFromScores(t *testing.T) {
	svc := newTestService(&fakeStore{sessions: sampleSessions()}, nil)

	rows, err := svc.Rows(context.Background(), store.SessionFilter{})
	if err != nil {
		t.Fatalf("Rows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	if rows[0].Severity != risk.SeverityHigh || rows[0].MaxScore == nil || *rows[0].MaxScore != 4.5 {
		t.Errorf("row 0 severity = %q max = %v", rows[0].Severity, rows[0].MaxScore)
	}
	if rows[1].Severity != risk.SeverityMedium || rows[1].Category != "" {
		t.Errorf("row 1 severity = %q category = %q", rows[1].Severity, rows[1].Category)
	}
	if rows[2].Severity != risk.SeverityNone || rows[2].SeverityLabel() != "-" || rows[2].Status != "" {
		t.Errorf("row 2 = %+v", rows[2])
	}
}

func TestExecutiveWorkbook(t *testing.T) {
	st := &fakeStore{sessions: sampleSessions()}
	svc := newTestService(st, nil)

	result, err := svc.Executive(context.Background(), store.SessionFilter{ProjectCode: "PRJ-001"}, FormatXLSX)
	if err != nil {
		t.Fatalf("Executive() error = %v", err)
	}
	if result.Filename != "executive-summary-20261016.xlsx" {
		t.Errorf("Filename = %q", result.Filename)
	}
	if result.MimeType != mimeXLSX {
		t.Errorf("MimeType = %q", result.MimeType)
	}
	if st.filter.ProjectCode != "PRJ-001" {
		t.Errorf("filter not forwarded: %+v", st.filter)
	}

	f, err := excelize.OpenReader(bytes.NewReader(result.Data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	if got := f.GetSheetList(); len(got) != 2 || got[0] != sheetSummary || got[1] != sheetByStatus {
		t.Fatalf("sheets = %v", got)
	}

	rows, err := f.GetRows(sheetSummary)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("summary rows = %d, want 4", len(rows))
	}
	if rows[0][0] != "Session ID" || rows[0][5] != "Severity" {
		t.Errorf("header = %v", rows[0])
	}
	first := rows[1]
	if first[1] != "PRJ-001" || first[3] != "ISSUE" || first[4] != "Scope" || first[5] != "High" || first[8] != "Yes" {
		t.Errorf("first row = %v", first)
	}
	if rows[3][3] != "-" || rows[3][5] != "-" {
		t.Errorf("unclassified row = %v", rows[3])
	}
	if rows[0][9] != "Overridden At" {
		t.Errorf("header[9] = %q", rows[0][9])
	}
	if first[9] != "2026-09-02 10:00" {
		t.Errorf("overridden at = %q, want 2026-09-02 10:00", first[9])
	}
	if rows[2][8] != "No" || rows[2][9] != "-" {
		t.Errorf("plain row override columns = %q %q", rows[2][8], rows[2][9])
	}

	counts, err := f.GetRows(sheetByStatus)
	if err != nil {
		t.Fatalf("GetRows(by status) error = %v", err)
	}
	got := map[string]string{}
	for _, row := range counts[1:] {
		got[row[0]] = row[1]
	}
	want := map[string]string{"ISSUE": "1", "RISK": "0", "CONCERN": "1", "NON_RISK": "0", "Unclassified": "1", "Total": "3"}
	for status, count := range want {
		if got[status] != count {
			t.Errorf("count[%s] = %q, want %q", status, got[status], count)
		}
	}
}

func TestExecutivePDFUsesRenderedTemplate(t *testing.T) {
	svc := newTestService(&fakeStore{sessions: sampleSessions()}, nil)
	var rendered string
	svc.pdf = func(_ context.Context, html string) ([]byte, error) {
		rendered = html
		return []byte("%PDF-1.7"), nil
	}

	result, err := svc.Executive(context.Background(), store.SessionFilter{}, FormatPDF)
	if err != nil {
		t.Fatalf("Executive() error = %v", err)
	}
	if result.Filename != "executive-summary-20261016.pdf" || result.MimeType != mimePDF {
		t.Errorf("result = %q %q", result.Filename, result.MimeType)
	}
	for _, want := range []string{"Executive Summary", "Vendor delivery slipped two sprints", "sev-High", "3 sessions"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestExecutiveStoreError(t *testing.T) {
	boom := errors.New("db down")
	svc := newTestService(&fakeStore{err: boom}, nil)

	if _, err := svc.Executive(context.Background(), store.SessionFilter{}, FormatXLSX); !errors.Is(err, boom) {
		t.Fatalf("Executive() error = %v, want %v", err, boom)
	}
}

func TestArchive(t *testing.T) {
	archive := &fakeArchive{}
	svc := newTestService(&fakeStore{}, archive)
	result := &Result{Data: []byte("data"), Filename: "executive-summary-20261016.xlsx", MimeType: mimeXLSX}

	key, err := svc.Archive(context.Background(), result)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if !strings.HasPrefix(key, "executive/2026/10/") || !strings.HasSuffix(key, "-executive-summary-20261016.xlsx") {
		t.Errorf("key = %q", key)
	}
	if result.ArchiveKey != key || archive.contentType != mimeXLSX || string(archive.data) != "data" {
		t.Errorf("archive got %q %q", archive.contentType, archive.data)
	}

	if result.DownloadURL != "" {
		t.Errorf("DownloadURL = %q, want empty for an archive without links", result.DownloadURL)
	}

	if _, err := newTestService(&fakeStore{}, nil).Archive(context.Background(), result); err == nil {
		t.Error("Archive() without object store should fail")
	}
}

func TestArchiveAddsDownloadLink(t *testing.T) {
	archive := &presigningArchive{}
	svc := newTestService(&fakeStore{}, archive)
	result := &Result{Data: []byte("data"), Filename: "executive-summary-20261016.pdf", MimeType: mimePDF}

	key, err := svc.Archive(context.Background(), result)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if archive.expiry != DownloadLinkTTL {
		t.Errorf("expiry = %v, want %v", archive.expiry, DownloadLinkTTL)
	}
	if !strings.HasPrefix(result.DownloadURL, "https://minio.local/exports/"+key) {
		t.Errorf("DownloadURL = %q", result.DownloadURL)
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"ก", "%E0%B8%81"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderExecutiveHTMLEscapesSummary(t *testing.T) {
	html, err := RenderExecutiveHTML(ExecutiveData{
		GeneratedAt: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
		Rows:        []Row{{SessionID: "x", Summary: "<script>alert(1)</script>"}},
	})
	if err != nil {
		t.Fatalf("RenderExecutiveHTML() error = %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("summary should be escaped")
	}
	if !strings.Contains(html, "2026-10-16 09:00") {
		t.Error("html missing generated time")
	}
}
