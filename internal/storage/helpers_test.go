package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cfd-ledger/internal/logging"
)

// testContext bounds a ledger test and carries a quiet logger
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return logging.WithLogger(ctx, logging.NewLoggerWithOutput(logging.LevelError, logging.FormatText, io.Discard))
}
