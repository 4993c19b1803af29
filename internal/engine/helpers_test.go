package engine

import (
	"io"
	"log"
	"testing"
)

// testLogger returns a quiet logger for tests; flip to os.Stderr when
// debugging a failure.
func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(io.Discard, "", 0)
}
