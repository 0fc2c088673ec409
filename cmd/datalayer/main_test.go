package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryEnv 让命令使用内存 sqlite 并把日志写到 stderr
func memoryEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://")
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("DATALAYER_LOG_LEVEL", "error")
	t.Setenv("DATALAYER_LOG_OUTPUT_PATHS", "stderr")
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCmd(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage:")

	code, stdout, _ := runCmd(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "datalayer <command>")

	code, _, stderr = runCmd(t, "explode")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: explode")
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := runCmd(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "datalayer "+Version)
	assert.Contains(t, stdout, "Git Commit")
}

func TestRun_Check(t *testing.T) {
	memoryEnv(t)

	code, stdout, stderr := runCmd(t, "check")
	require.Equal(t, 0, code, stderr)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, true, report["database_responsive"])
	assert.Contains(t, []any{"healthy", "degraded"}, report["status"])
}

func TestRun_CheckFromConfigFile(t *testing.T) {
	t.Setenv("DATALAYER_LOG_OUTPUT_PATHS", "stderr")
	path := filepath.Join(t.TempDir(), "datalayer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: "sqlite://"
  environment: test
log:
  level: error
metrics:
  enabled: false
`), 0o600))

	code, stdout, stderr := runCmd(t, "check", "--config", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `"engine_info"`)
}

func TestRun_CheckRejectsInvalidConfig(t *testing.T) {
	memoryEnv(t)
	t.Setenv("DATABASE_URL", "ftp://nowhere")

	code, stdout, stderr := runCmd(t, "check")
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Invalid config")
}

func TestRun_Bench(t *testing.T) {
	memoryEnv(t)

	code, stdout, stderr := runCmd(t, "bench", "-n", "5", "-rate", "0")
	require.Equal(t, 0, code, stderr)

	var report map[string]float64
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, 5.0, report["queries_executed"])
	assert.Equal(t, 0.0, report["queries_failed"])
	assert.Equal(t, 100.0, report["success_rate"])
}

func TestRun_BenchRejectsBadFlags(t *testing.T) {
	memoryEnv(t)

	code, _, stderr := runCmd(t, "bench", "-n", "0")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "-n must be positive")

	code, _, _ = runCmd(t, "bench", "-bogus")
	assert.Equal(t, 2, code)
}

func TestRun_ProbeStopsOnContextCancel(t *testing.T) {
	memoryEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stderr bytes.Buffer
	code := run(ctx, []string{"probe", "--addr", "127.0.0.1:0"}, &bytes.Buffer{}, &stderr)
	assert.Equal(t, 0, code, stderr.String())
}
