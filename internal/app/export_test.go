package app

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nongsaijai/api/internal/export"
	"nongsaijai/api/internal/risk"
)

func TestExportExecutiveSetsDownloadHeaders(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/api/export/executive?status=issue&proj_code=prj-001", adminSID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename="executive-summary-20261016.xlsx"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("X-Archive-Key"))
	assert.Empty(t, rec.Header().Get("X-Archive-URL"))
	assert.Equal(t, "PK\x03\x04", rec.Body.String())

	assert.Equal(t, export.FormatXLSX, env.exporter.format)
	require.NotNil(t, env.exporter.filter.Status)
	assert.Equal(t, risk.StatusIssue, *env.exporter.filter.Status)
	assert.Equal(t, "PRJ-001", env.exporter.filter.ProjectCode)
	assert.False(t, env.exporter.archived)

	require.Len(t, env.store.audits, 1)
	assert.Equal(t, "export.executive", env.store.audits[0].Action)
	assert.Nil(t, env.store.audits[0].SessionID)
}

func TestExportArchive(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/api/export/executive?archive=true", adminSID, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.store.audits)

	env.exporter.canArchive = true
	rec = env.do(t, http.MethodGet, "/api/export/executive?format=pdf&archive=true", adminSID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "executive/2026/10/executive-summary-20261016.pdf", rec.Header().Get("X-Archive-Key"))
	assert.Equal(t, "https://files.example.test/executive/2026/10/executive-summary-20261016.pdf", rec.Header().Get("X-Archive-URL"))
	assert.True(t, env.exporter.archived)
	assert.Equal(t, "executive/2026/10/executive-summary-20261016.pdf", env.store.audits[0].Details["archive_key"])
}

func TestExportRejectsBadInput(t *testing.T) {
	env := newTestEnv()

	for _, query := range []string{"format=docx", "archive=maybe", "status=FOO"} {
		rec := env.do(t, http.MethodGet, "/api/export/executive?"+query, adminSID, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
	assert.Empty(t, env.store.audits)
}

func TestExportUnavailableWithoutExporter(t *testing.T) {
	env := newTestEnv()
	env.service.export = nil

	rec := env.do(t, http.MethodGet, "/api/export/executive", adminSID, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "EXPORT_UNAVAILABLE", decode(t, rec)["code"])
}
