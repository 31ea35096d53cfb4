package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	// Registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

// SQLiteDriver is the database/sql driver name registered by modernc.org/sqlite
const SQLiteDriver = "sqlite"

// EmployeeSchema creates and fills the employees and departments tables
var EmployeeSchema = []string{ //nolint:gochecknoglobals // shared fixture
	`CREATE TABLE departments (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
	`CREATE TABLE employees (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		dept INTEGER,
		salary REAL,
		hired DATE,
		photo BLOB,
		notes CLOB
	)`,
	`INSERT INTO departments (id, name) VALUES (1, 'Engineering'), (2, 'Sales')`,
	`INSERT INTO employees (id, name, dept, salary, hired, photo, notes) VALUES
		(1, 'Ada', 1, 1200.5, '2020-01-15 09:30:00', x'89504e47', 'first'),
		(2, 'Brian', 1, 990, '2021-03-01 00:00:00', NULL, NULL),
		(3, 'Chen', 2, 1500.25, '2019-07-04 12:00:00', NULL, 'third'),
		(4, 'Dana', 2, NULL, NULL, NULL, NULL),
		(5, 'Eve', 1, 1100, '2022-11-30 17:45:00', x'ffd8ffe0', NULL)`,
}

// NewSQLiteDSN creates an empty file-backed SQLite database under the test's
// temp dir, runs statements against it and returns its DSN
func NewSQLiteDSN(t *testing.T, statements ...string) string {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "resthub.db")

	db, err := sql.Open(SQLiteDriver, dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	defer db.Close()

	for _, stmt := range statements {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("failed to run fixture statement: %v", err)
		}
	}

	return dsn
}
