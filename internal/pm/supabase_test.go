package pm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgRESTStub(t *testing.T, tables map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		table := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		rows, ok := tables[table]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if filter := r.URL.Query().Get("code"); filter != "" && filter != "eq.PRJ-1" {
			rows = []any{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rows)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSupabaseDirectoryResolvesProjectManager(t *testing.T) {
	server := newPostgRESTStub(t, map[string]any{
		"projects":  []map[string]any{{"code": "PRJ-1", "name": "Core Banking", "pm_employee_id": 7}},
		"employees": []map[string]any{{"id": 7, "full_name": "Malee", "email": "malee@mfec.co.th"}},
	})
	directory, err := NewSupabaseDirectory(server.URL, "anon-key")
	require.NoError(t, err)

	employee, err := directory.ProjectManager(context.Background(), "PRJ-1")
	require.NoError(t, err)
	assert.Equal(t, "Malee", employee.FullName)

	_, err = directory.ProjectManager(context.Background(), "PRJ-404")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestSupabaseDirectoryProjectWithoutManager(t *testing.T) {
	server := newPostgRESTStub(t, map[string]any{
		"projects": []map[string]any{{"code": "PRJ-1", "name": "Orphan", "pm_employee_id": nil}},
	})
	directory, err := NewSupabaseDirectory(server.URL, "anon-key")
	require.NoError(t, err)

	_, err = directory.ProjectManager(context.Background(), "PRJ-1")
	assert.ErrorIs(t, err, ErrProjectManagerNotFound)
}

func TestSupabaseDirectorySortsLookups(t *testing.T) {
	server := newPostgRESTStub(t, map[string]any{
		"lookups": []map[string]any{
			{"id": 2, "group_name": GroupPriority, "code": "LOW", "label": "Low", "sort_order": 2},
			{"id": 1, "group_name": GroupPriority, "code": "HIGH", "label": "High", "sort_order": 1},
		},
	})
	directory, err := NewSupabaseDirectory(server.URL, "anon-key")
	require.NoError(t, err)

	values, err := directory.ListLookups(context.Background(), GroupPriority)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "HIGH", values[0].Code)

	value, err := directory.Lookup(context.Background(), GroupPriority, "low")
	require.NoError(t, err)
	assert.Equal(t, int64(2), value.ID)
}

func TestNewSupabaseDirectoryRequiresConfig(t *testing.T) {
	_, err := NewSupabaseDirectory("", "key")
	assert.Error(t, err)
	_, err = NewSupabaseDirectory("http://localhost", "")
	assert.Error(t, err)
}
