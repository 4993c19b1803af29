package engine

import (
	"log"
	"os"
)

// ensureLogger returns the given logger, or a default stderr logger when
// nil, so components never have to nil-check before logging.
func ensureLogger(l *log.Logger) *log.Logger {
	if l != nil {
		return l
	}
	return log.New(os.Stderr, "[engine] ", log.LstdFlags)
}
