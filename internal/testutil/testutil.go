// Package testutil provides test utilities for resthub, including:
//   - Miniredis helpers for metadata store tests (miniredis.go)
//   - File-backed SQLite databases with a small employee schema (sqlite.go)
//   - A quiet logger for services under test
//
// None of the helpers need Docker or network access.
package testutil

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger that discards output unless the test is verbose
func NewLogger(t *testing.T) *logrus.Logger {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	if !testing.Verbose() {
		log.SetOutput(io.Discard)
	}

	return log
}
