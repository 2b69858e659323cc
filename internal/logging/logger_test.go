package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"challengeflow/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func readLog(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, time.Now().Format("2006-01-02")+"_"+name+".log")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return string(data)
}

func TestNew_CategoryFiles(t *testing.T) {
	dir := t.TempDir()
	l, closeLogs, err := New(config.LoggingConfig{Level: "info", Dir: dir}, false)
	require.NoError(t, err)

	For(l, CategorySolver).Info("task accepted", zap.String("task_id", "77"))
	For(l, CategoryOrchestrator).Info("attempt started")
	For(For(l, CategoryOrchestrator), CategorySolver).Warn("nested solver entry")
	For(l, CategoryAction).Debug("below level")
	require.NoError(t, closeLogs())

	solver := readLog(t, dir, "solver")
	assert.Contains(t, solver, "task accepted")
	assert.Contains(t, solver, "nested solver entry")
	assert.NotContains(t, solver, "attempt started")

	orch := readLog(t, dir, "orchestrator")
	assert.Contains(t, orch, "attempt started")
	assert.NotContains(t, orch, "task accepted")

	session := readLog(t, dir, "session")
	for _, msg := range []string{"task accepted", "attempt started", "nested solver entry"} {
		assert.Contains(t, session, msg)
	}
	assert.NotContains(t, readLog(t, dir, "action"), "below level")
}

func TestNew_DisabledCategoryHasNoFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LoggingConfig{Dir: dir, Categories: map[string]bool{"journal": false}}
	l, closeLogs, err := New(cfg, true)
	require.NoError(t, err)
	For(l, CategoryJournal).Debug("journal write")
	require.NoError(t, closeLogs())

	_, err = os.Stat(filepath.Join(dir, time.Now().Format("2006-01-02")+"_journal.log"))
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, readLog(t, dir, "session"), "journal write")
}

func TestNew_JSONFormat(t *testing.T) {
	dir := t.TempDir()
	l, closeLogs, err := New(config.LoggingConfig{Dir: dir, Format: "json"}, false)
	require.NoError(t, err)
	For(l, CategoryBoot).Info("hello")
	require.NoError(t, closeLogs())

	line := strings.TrimSpace(readLog(t, dir, "boot"))
	assert.True(t, strings.HasPrefix(line, "{"), "expected JSON line, got %q", line)
	assert.Contains(t, line, `"logger":"boot"`)
}

func TestNew_ConsoleOnly(t *testing.T) {
	l, closeLogs, err := New(config.LoggingConfig{}, false)
	require.NoError(t, err)
	assert.NotNil(t, l)
	assert.NoError(t, closeLogs())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"loud":    zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestFor_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() { For(nil, CategoryBoot).Info("dropped") })
}
