package blockview

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// logBuffer collects log output written from several goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(logs *logBuffer) *Config {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return cfg
}

func newTestEngine(t *testing.T, templates map[string]string) (*Engine, *logBuffer) {
	t.Helper()
	logs := &logBuffer{}
	return New(NewMapSource(templates), testConfig(logs)), logs
}

func renderString(t *testing.T, e *Engine, name string, data any) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, e.Render(context.Background(), &buf, name, data))
	return buf.String()
}
