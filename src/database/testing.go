package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"reportserver/src/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	testDB     *pgxpool.Pool
	testDBMu   sync.Mutex
)

// SetupTestDB connects to the database described by
// settings/appsettings.TESTING.yaml and truncates the scheduler tables. Tests
// are skipped when no such configuration exists.
func SetupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	testDBMu.Lock()
	defer testDBMu.Unlock()

	if testDB != nil {
		TruncateTables(t, testDB)
		return testDB
	}

	root, err := serviceRoot()
	if err != nil {
		t.Skipf("no service root: %v", err)
	}
	settings := filepath.Join(root, "settings")
	if _, err := os.Stat(filepath.Join(settings, "appsettings.TESTING.yaml")); err != nil {
		t.Skip("appsettings.TESTING.yaml not found, skipping database tests")
	}

	cfg, err := config.LoadConfig(settings, "TESTING")
	if err != nil {
		t.Fatalf("Failed to load test configuration: %v", err)
	}

	pool, err := SetupDB(context.Background(), cfg)
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}

	TruncateTables(t, pool)
	testDB = pool
	return pool
}

func TruncateTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	for _, table := range []string{"scheduled_report_jobs", "tenants"} {
		_, err := pool.Exec(context.Background(), fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		if err != nil {
			t.Fatalf("Failed to truncate table %s: %v", table, err)
		}
	}
}

// serviceRoot walks up from the working directory to the directory holding go.mod.
func serviceRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(wd, "go.mod")); err == nil {
			return wd, nil
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		wd = parent
	}
}
