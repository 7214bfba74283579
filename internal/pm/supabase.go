package pm

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/supabase-community/supabase-go"
)

// SupabaseDirectory reads the hosted PM Backend through PostgREST.
type SupabaseDirectory struct {
	client *supabase.Client
}

// NewSupabaseDirectory connects to the pm schema of a Supabase project.
func NewSupabaseDirectory(url, apiKey string) (*SupabaseDirectory, error) {
	if url == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	client, err := supabase.NewClient(url, apiKey, &supabase.ClientOptions{Schema: "pm"})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseDirectory{client: client}, nil
}

func (d *SupabaseDirectory) ProjectManager(ctx context.Context, projectCode string) (Employee, error) {
	code := strings.TrimSpace(projectCode)
	var projects []Project
	_, err := d.client.From("projects").
		Select("code,name,pm_employee_id", "", false).
		Eq("code", code).
		Eq("is_active", "true").
		ExecuteTo(&projects)
	if err != nil {
		return Employee{}, fmt.Errorf("get project: %w", err)
	}
	if len(projects) == 0 {
		return Employee{}, fmt.Errorf("%w: %s", ErrProjectNotFound, code)
	}
	if projects[0].PMEmployeeID == nil {
		return Employee{}, fmt.Errorf("%w: %s", ErrProjectManagerNotFound, code)
	}

	var employees []Employee
	_, err = d.client.From("employees").
		Select("id,full_name,email", "", false).
		Eq("id", strconv.FormatInt(*projects[0].PMEmployeeID, 10)).
		Eq("is_active", "true").
		ExecuteTo(&employees)
	if err != nil {
		return Employee{}, fmt.Errorf("get employee: %w", err)
	}
	if len(employees) == 0 {
		return Employee{}, fmt.Errorf("%w: %s", ErrProjectManagerNotFound, code)
	}
	return employees[0], nil
}

func (d *SupabaseDirectory) Lookup(ctx context.Context, group, code string) (LookupValue, error) {
	values, err := d.ListLookups(ctx, group)
	if err != nil {
		return LookupValue{}, err
	}
	return findLookup(values, group, code)
}

func (d *SupabaseDirectory) ListLookups(ctx context.Context, group string) ([]LookupValue, error) {
	var values []LookupValue
	_, err := d.client.From("lookups").
		Select("id,group_name,code,label,sort_order", "", false).
		Eq("group_name", group).
		Eq("is_active", "true").
		ExecuteTo(&values)
	if err != nil {
		return nil, fmt.Errorf("list lookups: %w", err)
	}
	sort.SliceStable(values, func(i, j int) bool {
		if values[i].SortOrder != values[j].SortOrder {
			return values[i].SortOrder < values[j].SortOrder
		}
		return values[i].Label < values[j].Label
	})
	return values, nil
}
