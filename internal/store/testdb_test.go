package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	sharedDSN     string
	containerOnce sync.Once
	containerErr  error
)

// openTestDB returns a migrated database from CI_DATABASE_URL or a shared
// container. The test is skipped when neither is available.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in -short mode")
	}

	dsn := os.Getenv("CI_DATABASE_URL")
	if dsn == "" {
		containerOnce.Do(startSharedContainer)
		if containerErr != nil {
			t.Skipf("postgres container unavailable: %v", containerErr)
		}
		dsn = sharedDSN
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, MigrateUp(db))
	return db
}

func startSharedContainer() {
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("nsj"),
		postgres.WithUsername("nsj"),
		postgres.WithPassword("nsj"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		containerErr = fmt.Errorf("start postgres container: %w", err)
		return
	}
	sharedDSN, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		containerErr = fmt.Errorf("container connection string: %w", err)
	}
}

type pmSeed struct {
	ProjectCode string
	EmployeeID  int64
	Lookups     map[string]int64
}

func seedPM(t *testing.T, db *sql.DB) pmSeed {
	t.Helper()
	ctx := context.Background()
	seed := pmSeed{
		ProjectCode: "PRJ-" + uuid.NewString()[:8],
		Lookups:     map[string]int64{},
	}

	require.NoError(t, db.QueryRowContext(ctx, `
		INSERT INTO pm.employees (full_name, email) VALUES ('Malee PM', 'malee@mfec.co.th') RETURNING id
	`).Scan(&seed.EmployeeID))
	_, err := db.ExecContext(ctx, `
		INSERT INTO pm.projects (code, name, pm_employee_id) VALUES ($1, 'Core Banking', $2)
	`, seed.ProjectCode, seed.EmployeeID)
	require.NoError(t, err)

	for _, group := range []string{"ISSUE_CATEGORY", "ISSUE_STATUS", "RISK_CATEGORY", "RISK_STATUS", "ENVIRONMENT", "PRIORITY", "RISK_IMPACT", "RISK_PROBABILITY"} {
		var id int64
		require.NoError(t, db.QueryRowContext(ctx, `
			INSERT INTO pm.lookups (group_name, code, label)
			VALUES ($1, $2, $2)
			ON CONFLICT (group_name, code) DO UPDATE SET label=EXCLUDED.label
			RETURNING id
		`, group, "DEFAULT").Scan(&id))
		seed.Lookups[group] = id
	}
	return seed
}
