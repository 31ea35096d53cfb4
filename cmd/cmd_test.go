package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpandaops/resthub/internal/testutil"
	"github.com/ethpandaops/resthub/pkg/api"
	"github.com/ethpandaops/resthub/pkg/cache"
	"github.com/ethpandaops/resthub/pkg/executor"
	"github.com/ethpandaops/resthub/pkg/metadata"
	"github.com/ethpandaops/resthub/pkg/query"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
logging: debug
connections:
  default:
    driver: sqlite
    dsn: "file::memory:"
defaults:
  cacheTime: 10
tables:
  - namespace: hr
    name: staff
    sql: SELECT id, name FROM employees
    hitCount: 3
`)

	cfg, err := loadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, "sqlite", cfg.Connections[executor.DefaultConnection].Driver)
	require.NotNil(t, cfg.Defaults.CacheTime)
	assert.Equal(t, 10, *cfg.Defaults.CacheTime)
	assert.Equal(t, 30*time.Second, cfg.Defaults.Timeout)
	require.Len(t, cfg.Tables, 1)
	assert.Equal(t, 3, cfg.Tables[0].HitCount)
	require.NoError(t, cfg.Validate())

	_, err = loadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadCLIConfig(t *testing.T) {
	cfg, err := LoadCLIConfig(filepath.Join(t.TempDir(), "cli.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.URL)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, "error", cfg.Logging)

	path := writeFile(t, "cli.yaml", "url: http://resthub:9000/\ntimeout: 5s\n")
	cfg, err = LoadCLIConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	server, err := cfg.Server()
	require.NoError(t, err)
	assert.Equal(t, "http://resthub:9000", server.URL())

	cfg.URL = ""
	assert.ErrorIs(t, cfg.Validate(), ErrServerURLRequired)
}

func TestQueryCommand(t *testing.T) {
	ctx := context.Background()
	log := testutil.NewLogger(t)

	exec, err := executor.NewExecutor(log, executor.Config{
		executor.DefaultConnection: {
			Driver:       testutil.SQLiteDriver,
			DSN:          testutil.NewSQLiteDSN(t, testutil.EmployeeSchema...),
			MaxOpenConns: 1,
		},
	})
	require.NoError(t, err)
	require.NoError(t, exec.Start(ctx))
	t.Cleanup(func() { _ = exec.Stop() })

	tables := metadata.NewService(log, metadata.NewMemoryStore(), []*metadata.Table{
		{Namespace: "hr", Name: "staff", SQL: "SELECT id, name, dept FROM employees"},
	})
	require.NoError(t, tables.Start(ctx))

	registry := query.NewRegistry(log, exec, tables, cache.NewStore(log), query.Options{
		Defaults: cache.Policy{CacheTime: 60, Timeout: 5 * time.Second, RowsLimit: 1000},
	})

	srv := httptest.NewServer(adaptor.FiberApp(api.NewApp(&api.Config{Addr: ":0", BodyLimit: 1 << 20}, registry, tables, log)))
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{
		"query", "--url", srv.URL,
		"--param", "dept=2",
		"SELECT s.name FROM hr.staff s WHERE s.dept = :dept ORDER BY s.id",
	})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "NAME")
	assert.Contains(t, out.String(), "Chen")
	assert.Contains(t, out.String(), "Dana")
	assert.NotContains(t, out.String(), "Ada")

	// Queries are removed once printed unless --keep is given
	assert.Equal(t, 0, registry.Len())
}
